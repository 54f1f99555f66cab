package engine

import "errors"

// Every mutation either commits in full or fails with one of these and
// leaves no state change behind. Retrying is the caller's concern.
var (
	ErrNotMember           = errors.New("only DAO members allowed")
	ErrNotAdmin            = errors.New("not an admin")
	ErrNotOrgAdmin         = errors.New("not a DAO admin")
	ErrInvalidWindow       = errors.New("start time must precede end time")
	ErrOutsideVotingWindow = errors.New("invalid voting time")
	ErrAlreadyVoted        = errors.New("already voted")
	ErrNoSuchProposal      = errors.New("no such proposal")
	ErrNoSuchQuest         = errors.New("no such quest")
	ErrUnknownPluginType   = errors.New("unknown plugin type")
	ErrInvalidPlugin       = errors.New("invalid plugin")
	ErrAlreadyMember       = errors.New("already a member")
)
