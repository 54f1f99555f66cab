package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/sergeytimoshin/aut-contracts/internal/config"
	"github.com/sergeytimoshin/aut-contracts/internal/db"
	"github.com/sergeytimoshin/aut-contracts/internal/engine"
	"github.com/sergeytimoshin/aut-contracts/internal/migrate"
)

type testServer struct {
	URL    string
	Now    int64
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, config.Default())
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	e.Now = func() time.Time { return clock }
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth: AuthConfig{
			JWTSecret:                 "test-secret",
			AllowLegacyIdentityHeader: true,
		},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Now:    clock.Unix(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func asIdentity(identity string) map[string]string {
	return map[string]string{"X-Identity": identity}
}

func createDAO(t *testing.T, srv *testServer, id string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/daos", map[string]any{
		"id":   id,
		"name": "Test DAO",
	}, asIdentity("deployer"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create dao status %d: %s", res.StatusCode, string(data))
	}
}

func mintMember(t *testing.T, srv *testServer, daoID, identity string, role int) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/daos/"+daoID+"/members", map[string]any{
		"username":   identity,
		"role":       role,
		"commitment": 5,
	}, asIdentity(identity))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("mint %s status %d: %s", identity, res.StatusCode, string(data))
	}
}

func TestGovernanceFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	createDAO(t, srv, "dao-1")
	mintMember(t, srv, "dao-1", "alice", 1)
	mintMember(t, srv, "dao-1", "bob", 2)

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/daos/dao-1/proposals", map[string]any{
		"metadata_ref": "ipfs://p",
		"start_time":   srv.Now - 10,
		"end_time":     srv.Now + 10,
	}, asIdentity("alice"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create proposal status %d: %s", res.StatusCode, string(data))
	}
	var proposal ProposalResponse
	if err := json.Unmarshal(data, &proposal); err != nil {
		t.Fatalf("unmarshal proposal: %v", err)
	}
	if proposal.ID != 0 {
		t.Fatalf("first proposal id = %d, want 0", proposal.ID)
	}

	voteURL := fmt.Sprintf("%s/v0/daos/dao-1/proposals/%d/votes", srv.URL, proposal.ID)
	res, data = doJSON(t, client, http.MethodPost, voteURL, map[string]any{"support": true}, asIdentity("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("alice vote status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, voteURL, map[string]any{"support": false}, asIdentity("bob"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("bob vote status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &proposal); err != nil {
		t.Fatalf("unmarshal proposal: %v", err)
	}
	if proposal.YesWeight != 10 || proposal.NoWeight != 21 {
		t.Fatalf("tallies yes=%d no=%d, want 10/21", proposal.YesWeight, proposal.NoWeight)
	}

	// second vote by the same identity conflicts
	res, data = doJSON(t, client, http.MethodPost, voteURL, map[string]any{"support": true}, asIdentity("alice"))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("double vote status %d: %s", res.StatusCode, string(data))
	}
	// non-member is forbidden
	res, data = doJSON(t, client, http.MethodPost, voteURL, map[string]any{"support": true}, asIdentity("stranger"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("stranger vote status %d: %s", res.StatusCode, string(data))
	}
	// unknown proposal
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/daos/dao-1/proposals/42/votes", map[string]any{"support": true}, asIdentity("alice"))
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("missing proposal status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/daos/dao-1/proposals/active", nil, asIdentity("alice"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("active status %d: %s", res.StatusCode, string(data))
	}
	var active ActiveProposalsResponse
	if err := json.Unmarshal(data, &active); err != nil {
		t.Fatalf("unmarshal active: %v", err)
	}
	if len(active.IDs) != 1 || active.IDs[0] != proposal.ID {
		t.Fatalf("active ids = %v, want [%d]", active.IDs, proposal.ID)
	}
}

func TestQuestAndRegistryFlow(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	createDAO(t, srv, "dao-1")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/registry/plugins", map[string]any{
		"impl_address": "0xabc",
		"base_uri":     "ipfs://plugin",
		"kind":         1,
	}, asIdentity("deployer"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("define plugin status %d: %s", res.StatusCode, string(data))
	}
	var def PluginDefinitionResponse
	if err := json.Unmarshal(data, &def); err != nil {
		t.Fatalf("unmarshal definition: %v", err)
	}

	// registry admin gate
	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/registry/plugins", map[string]any{
		"impl_address": "0xdef",
	}, asIdentity("alice"))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin define status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/daos/dao-1/plugins", map[string]any{
		"impl_address":   "0xabc",
		"plugin_type_id": def.PluginTypeID,
	}, asIdentity("deployer"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("attach plugin status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/daos/dao-1/quests", map[string]any{
		"metadata_ref":  "ipfs://q",
		"required_role": 1,
	}, asIdentity("deployer"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create quest status %d: %s", res.StatusCode, string(data))
	}
	var quest QuestResponse
	if err := json.Unmarshal(data, &quest); err != nil {
		t.Fatalf("unmarshal quest: %v", err)
	}
	if quest.ID != 1 {
		t.Fatalf("first quest id = %d, want 1", quest.ID)
	}

	questURL := fmt.Sprintf("%s/v0/daos/dao-1/quests/%d", srv.URL, quest.ID)
	res, data = doJSON(t, client, http.MethodPost, questURL+"/tasks", map[string]any{
		"refs": []map[string]any{
			{"plugin_type_id": def.PluginTypeID, "task_id": 1},
			{"plugin_type_id": def.PluginTypeID, "task_id": 2},
		},
	}, asIdentity("deployer"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("add tasks status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &quest); err != nil {
		t.Fatalf("unmarshal quest: %v", err)
	}
	if quest.TasksCount != 2 {
		t.Fatalf("tasks count = %d, want 2", quest.TasksCount)
	}

	// a batch with one unregistered type is rejected whole
	res, data = doJSON(t, client, http.MethodPost, questURL+"/tasks", map[string]any{
		"refs": []map[string]any{
			{"plugin_type_id": def.PluginTypeID, "task_id": 3},
			{"plugin_type_id": def.PluginTypeID + 9, "task_id": 4},
		},
	}, asIdentity("deployer"))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("invalid batch status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, questURL, nil, asIdentity("deployer"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get quest status %d: %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &quest); err != nil {
		t.Fatalf("unmarshal quest: %v", err)
	}
	if quest.TasksCount != 2 {
		t.Fatalf("tasks count after rejected batch = %d, want 2", quest.TasksCount)
	}

	res, data = doJSON(t, client, http.MethodPost, questURL+"/tasks/create", map[string]any{
		"plugin_type_id": def.PluginTypeID,
		"role":           1,
		"uri":            "ipfs://task",
		"start_time":     srv.Now,
		"end_time":       srv.Now + 3600,
	}, asIdentity("deployer"))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create task status %d: %s", res.StatusCode, string(data))
	}
	var task PluginTaskResponse
	if err := json.Unmarshal(data, &task); err != nil {
		t.Fatalf("unmarshal task: %v", err)
	}
	if task.ID != 1 {
		t.Fatalf("task id = %d, want 1", task.ID)
	}

	res, data = doJSON(t, client, http.MethodGet, questURL+"/tasks", nil, asIdentity("deployer"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list refs status %d: %s", res.StatusCode, string(data))
	}
	var refs []TaskRefResponse
	if err := json.Unmarshal(data, &refs); err != nil {
		t.Fatalf("unmarshal refs: %v", err)
	}
	if len(refs) != 3 {
		t.Fatalf("refs = %d, want 3", len(refs))
	}
}

func TestEventsEndpoint(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	createDAO(t, srv, "dao-1")
	mintMember(t, srv, "dao-1", "alice", 1)

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/daos/dao-1/events?type=member.minted", nil, asIdentity("deployer"))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("member.minted events = %d, want 1", len(page.Items))
	}
	if page.Items[0].ActorID != "alice" {
		t.Fatalf("actor = %s, want alice", page.Items[0].ActorID)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v0/daos", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no auth status %d: %s", res.StatusCode, string(data))
	}
	// health stays open
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestDevLoginAndJWT(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/auth/dev/login", map[string]any{
		"identity": "carol",
		"roles":    []string{"operator"},
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("dev login status %d: %s", res.StatusCode, string(data))
	}
	var login DevLoginResponse
	if err := json.Unmarshal(data, &login); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if login.Token == "" {
		t.Fatalf("empty token")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer " + login.Token,
	})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("me status %d: %s", res.StatusCode, string(data))
	}
	var who WhoAmIResponse
	if err := json.Unmarshal(data, &who); err != nil {
		t.Fatalf("unmarshal me: %v", err)
	}
	if who.Identity != "carol" || who.Source != "jwt" {
		t.Fatalf("principal = %+v, want carol via jwt", who)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/me", nil, map[string]string{
		"Authorization": "Bearer not-a-token",
	})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token status %d: %s", res.StatusCode, string(data))
	}
}
