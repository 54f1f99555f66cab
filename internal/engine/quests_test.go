package engine_test

import (
	"errors"
	"testing"

	"github.com/sergeytimoshin/aut-contracts/internal/domain"
	"github.com/sergeytimoshin/aut-contracts/internal/engine"
)

// registerPlugin defines a plugin type and attaches it to dao-1, returning
// the type id.
func (env testEnv) registerPlugin(t *testing.T) uint64 {
	t.Helper()
	typeID, err := env.Engine.AddPluginDefinition(env.Ctx, "deployer", "0xabc", "ipfs://plugin", 1)
	if err != nil {
		t.Fatalf("add definition: %v", err)
	}
	if _, err := env.Engine.AddPluginToDAO(env.Ctx, "deployer", "dao-1", "0xabc", typeID); err != nil {
		t.Fatalf("attach plugin: %v", err)
	}
	return typeID
}

func TestPluginRegistryAdminGate(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 3)
	if _, err := env.Engine.AddPluginDefinition(env.Ctx, "alice", "0xabc", "", 1); !errors.Is(err, engine.ErrNotAdmin) {
		t.Fatalf("got %v, want ErrNotAdmin", err)
	}
	id, err := env.Engine.AddPluginDefinition(env.Ctx, "deployer", "0xabc", "", 1)
	if err != nil {
		t.Fatalf("deployer define: %v", err)
	}
	if id != 1 {
		t.Fatalf("definition id = %d, want 1", id)
	}
}

func TestAttachPluginRequiresDAOAdmin(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 1)
	typeID, err := env.Engine.AddPluginDefinition(env.Ctx, "deployer", "0xabc", "", 1)
	if err != nil {
		t.Fatalf("define: %v", err)
	}
	if _, err := env.Engine.AddPluginToDAO(env.Ctx, "alice", "dao-1", "0xabc", typeID); !errors.Is(err, engine.ErrNotOrgAdmin) {
		t.Fatalf("got %v, want ErrNotOrgAdmin", err)
	}
	if _, err := env.Engine.AddPluginToDAO(env.Ctx, "deployer", "dao-1", "0xabc", 999); !errors.Is(err, engine.ErrUnknownPluginType) {
		t.Fatalf("got %v, want ErrUnknownPluginType", err)
	}
	instID, err := env.Engine.AddPluginToDAO(env.Ctx, "deployer", "dao-1", "0xabc", typeID)
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	if instID != 1 {
		t.Fatalf("instance id = %d, want 1", instID)
	}
	registered, err := env.Engine.IsPluginRegisteredForDAO(env.Ctx, "dao-1", typeID)
	if err != nil || !registered {
		t.Fatalf("registered = %v (%v), want true", registered, err)
	}
}

func TestQuestIDsStartAtOne(t *testing.T) {
	env := newTestEnv(t)
	for want := uint64(1); want <= 3; want++ {
		id, err := env.Engine.CreateQuest(env.Ctx, "dao-1", "deployer", 1, "ipfs://q")
		if err != nil {
			t.Fatalf("create quest: %v", err)
		}
		if id != want {
			t.Fatalf("quest id = %d, want %d", id, want)
		}
	}
}

func TestQuestAdminGate(t *testing.T) {
	env := newTestEnv(t)
	env.mint(t, "alice", 3)
	if _, err := env.Engine.CreateQuest(env.Ctx, "dao-1", "alice", 1, ""); !errors.Is(err, engine.ErrNotAdmin) {
		t.Fatalf("create: got %v, want ErrNotAdmin", err)
	}
	id, err := env.Engine.CreateQuest(env.Ctx, "dao-1", "deployer", 1, "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	typeID := env.registerPlugin(t)
	refs := []domain.TaskRef{{PluginTypeID: typeID, TaskID: 1}}
	if err := env.Engine.AddTasks(env.Ctx, "dao-1", "alice", id, refs); !errors.Is(err, engine.ErrNotAdmin) {
		t.Fatalf("add: got %v, want ErrNotAdmin", err)
	}
	if err := env.Engine.RemoveTasks(env.Ctx, "dao-1", "alice", id, refs); !errors.Is(err, engine.ErrNotAdmin) {
		t.Fatalf("remove: got %v, want ErrNotAdmin", err)
	}
}

func TestAddTasksDeduplicates(t *testing.T) {
	env := newTestEnv(t)
	typeID := env.registerPlugin(t)
	id, err := env.Engine.CreateQuest(env.Ctx, "dao-1", "deployer", 1, "")
	if err != nil {
		t.Fatalf("create quest: %v", err)
	}
	refs := []domain.TaskRef{
		{PluginTypeID: typeID, TaskID: 1},
		{PluginTypeID: typeID, TaskID: 2},
	}
	if err := env.Engine.AddTasks(env.Ctx, "dao-1", "deployer", id, refs); err != nil {
		t.Fatalf("add: %v", err)
	}
	// re-adding the same refs plus one new one only grows the set by one
	refs = append(refs, domain.TaskRef{PluginTypeID: typeID, TaskID: 3})
	if err := env.Engine.AddTasks(env.Ctx, "dao-1", "deployer", id, refs); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	q, err := env.Engine.GetQuest(env.Ctx, "dao-1", id)
	if err != nil {
		t.Fatalf("get quest: %v", err)
	}
	if q.TasksCount != 3 {
		t.Fatalf("tasks count = %d, want 3", q.TasksCount)
	}
}

func TestAddTasksRejectsWholeBatchOnInvalidPlugin(t *testing.T) {
	env := newTestEnv(t)
	typeID := env.registerPlugin(t)
	id, err := env.Engine.CreateQuest(env.Ctx, "dao-1", "deployer", 1, "")
	if err != nil {
		t.Fatalf("create quest: %v", err)
	}
	refs := []domain.TaskRef{
		{PluginTypeID: typeID, TaskID: 1},
		{PluginTypeID: typeID + 7, TaskID: 2}, // not registered for the DAO
	}
	if err := env.Engine.AddTasks(env.Ctx, "dao-1", "deployer", id, refs); !errors.Is(err, engine.ErrInvalidPlugin) {
		t.Fatalf("got %v, want ErrInvalidPlugin", err)
	}
	// nothing landed, not even the valid ref
	tasks, err := env.Engine.TasksPerQuest(env.Ctx, "dao-1", id)
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("tasks = %v, want empty", tasks)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, 0, "dao-1", "quest.tasks_added", "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 0 {
		t.Fatalf("events after failed batch = %d, want 0", len(evts))
	}
}

func TestRemoveAbsentTasksStillEmitsSignal(t *testing.T) {
	env := newTestEnv(t)
	typeID := env.registerPlugin(t)
	id, err := env.Engine.CreateQuest(env.Ctx, "dao-1", "deployer", 1, "")
	if err != nil {
		t.Fatalf("create quest: %v", err)
	}
	refs := []domain.TaskRef{{PluginTypeID: typeID, TaskID: 99}}
	if err := env.Engine.RemoveTasks(env.Ctx, "dao-1", "deployer", id, refs); err != nil {
		t.Fatalf("remove absent: %v", err)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, 10, 0, "dao-1", "quest.tasks_removed", "", "")
	if err != nil {
		t.Fatalf("events: %v", err)
	}
	if len(evts) != 1 {
		t.Fatalf("tasks_removed events = %d, want 1", len(evts))
	}
}

func TestTasksPerQuestInsertionOrder(t *testing.T) {
	env := newTestEnv(t)
	typeID := env.registerPlugin(t)
	id, err := env.Engine.CreateQuest(env.Ctx, "dao-1", "deployer", 1, "")
	if err != nil {
		t.Fatalf("create quest: %v", err)
	}
	first := []domain.TaskRef{{PluginTypeID: typeID, TaskID: 5}, {PluginTypeID: typeID, TaskID: 2}}
	if err := env.Engine.AddTasks(env.Ctx, "dao-1", "deployer", id, first); err != nil {
		t.Fatalf("add: %v", err)
	}
	second := []domain.TaskRef{{PluginTypeID: typeID, TaskID: 1}}
	if err := env.Engine.AddTasks(env.Ctx, "dao-1", "deployer", id, second); err != nil {
		t.Fatalf("add: %v", err)
	}
	tasks, err := env.Engine.TasksPerQuest(env.Ctx, "dao-1", id)
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	want := []uint64{5, 2, 1}
	if len(tasks) != len(want) {
		t.Fatalf("tasks = %v, want %d refs", tasks, len(want))
	}
	for i, ref := range tasks {
		if ref.TaskID != want[i] {
			t.Fatalf("tasks[%d] = %d, want %d", i, ref.TaskID, want[i])
		}
	}
}

func TestQuestTaskMutationsOnMissingQuest(t *testing.T) {
	env := newTestEnv(t)
	typeID := env.registerPlugin(t)
	refs := []domain.TaskRef{{PluginTypeID: typeID, TaskID: 1}}
	if err := env.Engine.AddTasks(env.Ctx, "dao-1", "deployer", 42, refs); !errors.Is(err, engine.ErrNoSuchQuest) {
		t.Fatalf("add: got %v, want ErrNoSuchQuest", err)
	}
	if _, err := env.Engine.TasksPerQuest(env.Ctx, "dao-1", 42); !errors.Is(err, engine.ErrNoSuchQuest) {
		t.Fatalf("tasks: got %v, want ErrNoSuchQuest", err)
	}
}

func TestCreateQuestTask(t *testing.T) {
	env := newTestEnv(t)
	typeID := env.registerPlugin(t)
	id, err := env.Engine.CreateQuest(env.Ctx, "dao-1", "deployer", 1, "")
	if err != nil {
		t.Fatalf("create quest: %v", err)
	}
	task, err := env.Engine.CreateQuestTask(env.Ctx, engine.TaskCreateOptions{
		DAOID:        "dao-1",
		Caller:       "deployer",
		QuestID:      id,
		PluginTypeID: typeID,
		Role:         1,
		URI:          "ipfs://task",
		StartTime:    env.Now,
		EndTime:      env.Now + 3600,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.ID != 1 {
		t.Fatalf("task id = %d, want 1", task.ID)
	}
	tasks, err := env.Engine.TasksPerQuest(env.Ctx, "dao-1", id)
	if err != nil {
		t.Fatalf("tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].PluginTypeID != typeID || tasks[0].TaskID != task.ID {
		t.Fatalf("quest refs = %v, want the created task", tasks)
	}
	// invalid window and unregistered type are rejected before any write
	if _, err := env.Engine.CreateQuestTask(env.Ctx, engine.TaskCreateOptions{
		DAOID: "dao-1", Caller: "deployer", QuestID: id, PluginTypeID: typeID,
		StartTime: env.Now + 10, EndTime: env.Now + 10,
	}); !errors.Is(err, engine.ErrInvalidWindow) {
		t.Fatalf("bad window: got %v, want ErrInvalidWindow", err)
	}
	if _, err := env.Engine.CreateQuestTask(env.Ctx, engine.TaskCreateOptions{
		DAOID: "dao-1", Caller: "deployer", QuestID: id, PluginTypeID: typeID + 7,
		StartTime: env.Now, EndTime: env.Now + 10,
	}); !errors.Is(err, engine.ErrInvalidPlugin) {
		t.Fatalf("bad plugin: got %v, want ErrInvalidPlugin", err)
	}
}
