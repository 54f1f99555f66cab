package engine_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sergeytimoshin/aut-contracts/internal/config"
	"github.com/sergeytimoshin/aut-contracts/internal/db"
	"github.com/sergeytimoshin/aut-contracts/internal/engine"
	"github.com/sergeytimoshin/aut-contracts/internal/migrate"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	Now    int64
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	eng.Now = func() time.Time { return clock }
	ctx := context.Background()
	if _, err := eng.CreateDAO(ctx, "dao-1", "Test DAO", "", 1, "deployer"); err != nil {
		t.Fatalf("create dao: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, Now: clock.Unix()}
}

func (env testEnv) mint(t *testing.T, identity string, role int) {
	t.Helper()
	_, err := env.Engine.MintMembership(env.Ctx, engine.MintOptions{
		DAOID:      "dao-1",
		Identity:   identity,
		Username:   identity,
		Role:       role,
		Commitment: 5,
	})
	if err != nil {
		t.Fatalf("mint %s: %v", identity, err)
	}
}

func TestVoteWeightsByRole(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 1)
	env.mint(t, "bob", 2)
	env.mint(t, "carol", 3)

	id, err := env.Engine.CreateProposal(env.Ctx, "dao-1", "alice", env.Now-10, env.Now+10, "ipfs://p")
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	if err := env.Engine.Vote(env.Ctx, "dao-1", "alice", id, true); err != nil {
		t.Fatalf("alice vote: %v", err)
	}
	if err := env.Engine.Vote(env.Ctx, "dao-1", "bob", id, true); err != nil {
		t.Fatalf("bob vote: %v", err)
	}
	if err := env.Engine.Vote(env.Ctx, "dao-1", "carol", id, false); err != nil {
		t.Fatalf("carol vote: %v", err)
	}
	p, err := env.Engine.GetProposal(env.Ctx, "dao-1", id)
	if err != nil {
		t.Fatalf("get proposal: %v", err)
	}
	if p.YesWeight != 31 {
		t.Fatalf("yes weight = %d, want 31", p.YesWeight)
	}
	if p.NoWeight != 18 {
		t.Fatalf("no weight = %d, want 18", p.NoWeight)
	}
}

func TestUnknownRoleWeighsNothing(t *testing.T) {
	env := newTestEnv(t)
	if w := env.Engine.Weight(4); w != 0 {
		t.Fatalf("weight(4) = %d, want 0", w)
	}
	if w := env.Engine.Weight(0); w != 0 {
		t.Fatalf("weight(0) = %d, want 0", w)
	}
}

func TestDoubleVoteRejected(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 2)
	id, err := env.Engine.CreateProposal(env.Ctx, "dao-1", "alice", env.Now-1, env.Now+100, "")
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	if err := env.Engine.Vote(env.Ctx, "dao-1", "alice", id, true); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	err = env.Engine.Vote(env.Ctx, "dao-1", "alice", id, false)
	if !errors.Is(err, engine.ErrAlreadyVoted) {
		t.Fatalf("second vote: got %v, want ErrAlreadyVoted", err)
	}
	p, _ := env.Engine.GetProposal(env.Ctx, "dao-1", id)
	if p.YesWeight != 21 || p.NoWeight != 0 {
		t.Fatalf("tallies changed after rejected vote: yes=%d no=%d", p.YesWeight, p.NoWeight)
	}
}

func TestVotingWindowEdgesInclusive(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 1)
	env.mint(t, "bob", 1)
	env.mint(t, "carol", 1)
	env.mint(t, "dave", 1)

	// window ends exactly now
	atEnd, err := env.Engine.CreateProposal(env.Ctx, "dao-1", "alice", env.Now-100, env.Now, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.Engine.Vote(env.Ctx, "dao-1", "alice", atEnd, true); err != nil {
		t.Fatalf("vote at end edge: %v", err)
	}
	// window starts exactly now
	atStart, err := env.Engine.CreateProposal(env.Ctx, "dao-1", "alice", env.Now, env.Now+100, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.Engine.Vote(env.Ctx, "dao-1", "bob", atStart, true); err != nil {
		t.Fatalf("vote at start edge: %v", err)
	}
	// already closed
	closed, err := env.Engine.CreateProposal(env.Ctx, "dao-1", "alice", env.Now-100, env.Now-1, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.Engine.Vote(env.Ctx, "dao-1", "carol", closed, true); !errors.Is(err, engine.ErrOutsideVotingWindow) {
		t.Fatalf("vote on closed: got %v, want ErrOutsideVotingWindow", err)
	}
	// not yet open
	future, err := env.Engine.CreateProposal(env.Ctx, "dao-1", "alice", env.Now+1, env.Now+100, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.Engine.Vote(env.Ctx, "dao-1", "dave", future, true); !errors.Is(err, engine.ErrOutsideVotingWindow) {
		t.Fatalf("vote on future: got %v, want ErrOutsideVotingWindow", err)
	}
}

func TestNonMemberGating(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 1)
	id, err := env.Engine.CreateProposal(env.Ctx, "dao-1", "alice", env.Now-1, env.Now+100, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.Engine.CreateProposal(env.Ctx, "dao-1", "stranger", env.Now, env.Now+100, ""); !errors.Is(err, engine.ErrNotMember) {
		t.Fatalf("create by stranger: got %v, want ErrNotMember", err)
	}
	if err := env.Engine.Vote(env.Ctx, "dao-1", "stranger", id, true); !errors.Is(err, engine.ErrNotMember) {
		t.Fatalf("vote by stranger: got %v, want ErrNotMember", err)
	}
}

func TestInvalidWindowRejected(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 1)
	if _, err := env.Engine.CreateProposal(env.Ctx, "dao-1", "alice", env.Now+100, env.Now+100, ""); !errors.Is(err, engine.ErrInvalidWindow) {
		t.Fatalf("start==end: got %v, want ErrInvalidWindow", err)
	}
	if _, err := env.Engine.CreateProposal(env.Ctx, "dao-1", "alice", env.Now+100, env.Now+50, ""); !errors.Is(err, engine.ErrInvalidWindow) {
		t.Fatalf("start>end: got %v, want ErrInvalidWindow", err)
	}
}

func TestProposalIDsSequentialFromZero(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 1)
	for want := uint64(0); want < 3; want++ {
		id, err := env.Engine.CreateProposal(env.Ctx, "dao-1", "alice", env.Now, env.Now+100, "")
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		if id != want {
			t.Fatalf("proposal id = %d, want %d", id, want)
		}
	}
	n, err := env.Engine.ProposalCount(env.Ctx, "dao-1")
	if err != nil || n != 3 {
		t.Fatalf("count = %d (%v), want 3", n, err)
	}
}

func TestActiveProposalIDs(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 1)
	active1, _ := env.Engine.CreateProposal(env.Ctx, "dao-1", "alice", env.Now-10, env.Now+10, "")
	_, _ = env.Engine.CreateProposal(env.Ctx, "dao-1", "alice", env.Now-100, env.Now-50, "")
	active2, _ := env.Engine.CreateProposal(env.Ctx, "dao-1", "alice", env.Now, env.Now+1, "")
	_, _ = env.Engine.CreateProposal(env.Ctx, "dao-1", "alice", env.Now+50, env.Now+100, "")

	ids, err := env.Engine.ActiveProposalIDs(env.Ctx, "dao-1")
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(ids) != 2 || ids[0] != active1 || ids[1] != active2 {
		t.Fatalf("active ids = %v, want [%d %d]", ids, active1, active2)
	}
}

func TestVoteOnMissingProposal(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 1)
	if err := env.Engine.Vote(env.Ctx, "dao-1", "alice", 42, true); !errors.Is(err, engine.ErrNoSuchProposal) {
		t.Fatalf("got %v, want ErrNoSuchProposal", err)
	}
	if _, err := env.Engine.GetProposal(env.Ctx, "dao-1", 42); !errors.Is(err, engine.ErrNoSuchProposal) {
		t.Fatalf("get: got %v, want ErrNoSuchProposal", err)
	}
}

func TestMintMembershipOncePerIdentity(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 1)
	_, err := env.Engine.MintMembership(env.Ctx, engine.MintOptions{
		DAOID: "dao-1", Identity: "alice", Role: 2, Commitment: 3,
	})
	if !errors.Is(err, engine.ErrAlreadyMember) {
		t.Fatalf("got %v, want ErrAlreadyMember", err)
	}
}

func TestMintMembershipBounds(t *testing.T) {
	env := newTestEnv(t)
	for _, role := range []int{0, 4} {
		_, err := env.Engine.MintMembership(env.Ctx, engine.MintOptions{
			DAOID: "dao-1", Identity: "x", Role: role, Commitment: 5,
		})
		if err == nil {
			t.Fatalf("role %d accepted", role)
		}
	}
	for _, c := range []int{0, 11} {
		_, err := env.Engine.MintMembership(env.Ctx, engine.MintOptions{
			DAOID: "dao-1", Identity: "x", Role: 1, Commitment: c,
		})
		if err == nil {
			t.Fatalf("commitment %d accepted", c)
		}
	}
}

func TestVoteWeightCapturedAtVoteTime(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 2)
	id, err := env.Engine.CreateProposal(env.Ctx, "dao-1", "alice", env.Now-1, env.Now+100, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := env.Engine.Vote(env.Ctx, "dao-1", "alice", id, true); err != nil {
		t.Fatalf("vote: %v", err)
	}
	votes, err := env.Engine.Repo.ListVotes(env.Ctx, "dao-1", id)
	if err != nil || len(votes) != 1 {
		t.Fatalf("votes = %v (%v)", votes, err)
	}
	if votes[0].Weight != 21 {
		t.Fatalf("recorded weight = %d, want 21", votes[0].Weight)
	}
}
