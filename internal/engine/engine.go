package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sergeytimoshin/aut-contracts/internal/config"
	"github.com/sergeytimoshin/aut-contracts/internal/domain"
	"github.com/sergeytimoshin/aut-contracts/internal/events"
	"github.com/sergeytimoshin/aut-contracts/internal/identity"
	"github.com/sergeytimoshin/aut-contracts/internal/repo"
)

// Engine implements the governance, registry and quest operations. Every
// mutation runs as one transaction: gate, mutate, append signals, commit.
// The weight table is fixed at construction and never changes afterwards.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Oracle  identity.MembershipOracle
	Config  *config.Config
	Weights map[int]uint64
	Now     func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	weights := make(map[int]uint64, len(cfg.Governance.RoleWeights))
	for role, w := range cfg.Governance.RoleWeights {
		weights[role] = w
	}
	return Engine{
		DB:      db,
		Repo:    repo.Repo{DB: db},
		Events:  events.Writer{DB: db},
		Oracle:  identity.Directory{DB: db},
		Config:  cfg,
		Weights: weights,
		Now:     time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Weight maps a role to its vote weight. Unknown roles and role 0 weigh
// nothing: membership gates participation, role gates influence.
func (e Engine) Weight(role int) uint64 {
	return e.Weights[role]
}

// --- DAOs & membership ---

// CreateDAO records a new organization and mints its admin membership.
func (e Engine) CreateDAO(ctx context.Context, id, name, metadataURI string, market int, adminIdentity string) (domain.DAO, error) {
	if id == "" {
		return domain.DAO{}, errors.New("dao id is required")
	}
	if adminIdentity == "" {
		return domain.DAO{}, errors.New("admin identity is required")
	}
	now := e.now().UTC().Format(time.RFC3339)
	d := domain.DAO{
		ID:          id,
		Name:        name,
		MetadataURI: metadataURI,
		Market:      market,
		CreatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.DAO{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertDAO(ctx, tx, d); err != nil {
		return domain.DAO{}, fmt.Errorf("insert dao: %w", err)
	}
	admin := domain.Member{
		DAOID:      id,
		Identity:   adminIdentity,
		Role:       3,
		Commitment: 10,
		Admin:      true,
		CreatedAt:  now,
	}
	if err := e.Repo.InsertMember(ctx, tx, admin); err != nil {
		return domain.DAO{}, fmt.Errorf("insert admin member: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "dao.created", id, "dao", id, adminIdentity, events.EventPayload{"name": name}); err != nil {
		return domain.DAO{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.DAO{}, err
	}
	return d, nil
}

// MintOptions are parameters for minting a membership.
type MintOptions struct {
	DAOID       string
	Identity    string
	Username    string
	MetadataURI string
	Role        int
	Commitment  int
}

// MintMembership records one identity's membership in a DAO. One membership
// per identity per DAO; role and commitment bounds follow the identity
// service this mirrors.
func (e Engine) MintMembership(ctx context.Context, opts MintOptions) (domain.Member, error) {
	if opts.Identity == "" {
		return domain.Member{}, errors.New("identity is required")
	}
	if opts.Role < 1 || opts.Role > 3 {
		return domain.Member{}, fmt.Errorf("role must be 1..3, got %d", opts.Role)
	}
	if opts.Commitment < 1 || opts.Commitment > 10 {
		return domain.Member{}, fmt.Errorf("commitment must be 1..10, got %d", opts.Commitment)
	}
	if _, err := e.Repo.GetDAO(ctx, opts.DAOID); err != nil {
		return domain.Member{}, err
	}
	existing, err := e.Oracle.IsMember(ctx, opts.DAOID, opts.Identity)
	if err != nil {
		return domain.Member{}, err
	}
	if existing {
		return domain.Member{}, ErrAlreadyMember
	}
	m := domain.Member{
		DAOID:       opts.DAOID,
		Identity:    opts.Identity,
		Username:    opts.Username,
		Role:        opts.Role,
		Commitment:  opts.Commitment,
		MetadataURI: opts.MetadataURI,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Member{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertMember(ctx, tx, m); err != nil {
		return domain.Member{}, fmt.Errorf("insert member: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "member.minted", opts.DAOID, "member", opts.Identity, opts.Identity, events.EventPayload{
		"role":       opts.Role,
		"commitment": opts.Commitment,
	}); err != nil {
		return domain.Member{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Member{}, err
	}
	return m, nil
}

// --- Proposals ---

// CreateProposal opens a time-boxed proposal. Member-gated; the window is
// validated but may lie entirely in the past or future.
func (e Engine) CreateProposal(ctx context.Context, daoID, caller string, start, end int64, metadataRef string) (uint64, error) {
	member, err := e.Oracle.IsMember(ctx, daoID, caller)
	if err != nil {
		return 0, err
	}
	if !member {
		return 0, ErrNotMember
	}
	if start >= end {
		return 0, ErrInvalidWindow
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	id, err := e.Repo.NextProposalID(ctx, tx, daoID)
	if err != nil {
		return 0, err
	}
	p := domain.Proposal{
		DAOID:       daoID,
		ID:          id,
		MetadataRef: metadataRef,
		StartTime:   start,
		EndTime:     end,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertProposal(ctx, tx, p); err != nil {
		return 0, fmt.Errorf("insert proposal: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "proposal.created", daoID, "proposal", fmt.Sprint(id), caller, events.EventPayload{
		"metadata_ref": metadataRef,
		"start_time":   start,
		"end_time":     end,
	}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// Vote records one member's vote. The window check uses the engine clock,
// never a caller-supplied time; both window edges are inclusive. A second
// vote by the same identity is a hard ErrAlreadyVoted with no tally change.
func (e Engine) Vote(ctx context.Context, daoID, caller string, proposalID uint64, support bool) error {
	member, err := e.Oracle.IsMember(ctx, daoID, caller)
	if err != nil {
		return err
	}
	if !member {
		return ErrNotMember
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProposalTx(ctx, tx, daoID, proposalID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNoSuchProposal
		}
		return err
	}
	now := e.now().Unix()
	if now < p.StartTime || now > p.EndTime {
		return ErrOutsideVotingWindow
	}
	voted, err := e.Repo.HasVotedTx(ctx, tx, daoID, proposalID, caller)
	if err != nil {
		return err
	}
	if voted {
		return ErrAlreadyVoted
	}
	role, err := e.Oracle.RoleOf(ctx, daoID, caller)
	if err != nil {
		return err
	}
	weight := e.Weight(role)
	if err := e.Repo.AddProposalWeight(ctx, tx, daoID, proposalID, support, weight); err != nil {
		return err
	}
	if err := e.Repo.InsertVote(ctx, tx, domain.VoteRecord{
		DAOID:      daoID,
		ProposalID: proposalID,
		Identity:   caller,
		Support:    support,
		Weight:     weight,
		VotedAt:    e.now().UTC().Format(time.RFC3339),
	}); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "proposal.voted", daoID, "proposal", fmt.Sprint(proposalID), caller, events.EventPayload{
		"support": support,
		"weight":  weight,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// ActiveProposalIDs lists ids whose window contains the current time, in
// ascending id order.
func (e Engine) ActiveProposalIDs(ctx context.Context, daoID string) ([]uint64, error) {
	return e.Repo.ActiveProposalIDs(ctx, daoID, e.now().Unix())
}

func (e Engine) GetProposal(ctx context.Context, daoID string, id uint64) (domain.Proposal, error) {
	p, err := e.Repo.GetProposal(ctx, daoID, id)
	if errors.Is(err, repo.ErrNotFound) {
		return p, ErrNoSuchProposal
	}
	return p, err
}

func (e Engine) ProposalCount(ctx context.Context, daoID string) (uint64, error) {
	return e.Repo.CountProposals(ctx, daoID)
}
