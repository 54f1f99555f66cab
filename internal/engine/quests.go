package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sergeytimoshin/aut-contracts/internal/domain"
	"github.com/sergeytimoshin/aut-contracts/internal/events"
	"github.com/sergeytimoshin/aut-contracts/internal/repo"
)

// CreateQuest allocates the next quest id for a DAO with an empty task set.
// Admin-gated.
func (e Engine) CreateQuest(ctx context.Context, daoID, caller string, requiredRole int, metadataRef string) (uint64, error) {
	admin, err := e.Oracle.IsAdmin(ctx, daoID, caller)
	if err != nil {
		return 0, err
	}
	if !admin {
		return 0, ErrNotAdmin
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	id, err := e.Repo.NextQuestID(ctx, tx, daoID)
	if err != nil {
		return 0, err
	}
	q := domain.Quest{
		DAOID:        daoID,
		ID:           id,
		MetadataRef:  metadataRef,
		RequiredRole: requiredRole,
		CreatedAt:    e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertQuest(ctx, tx, q); err != nil {
		return 0, fmt.Errorf("insert quest: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "quest.created", daoID, "quest", fmt.Sprint(id), caller, events.EventPayload{
		"metadata_ref":  metadataRef,
		"required_role": requiredRole,
	}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// AddTasks appends task refs to a quest. Validation is asymmetric on
// purpose: any ref with a plugin type not registered for the DAO rejects the
// whole batch before any mutation, while refs already present are skipped
// silently. The aggregate signal is emitted even when nothing new landed.
func (e Engine) AddTasks(ctx context.Context, daoID, caller string, questID uint64, refs []domain.TaskRef) error {
	return e.mutateQuestTasks(ctx, daoID, caller, questID, refs, true)
}

// RemoveTasks deletes task refs from a quest. Absent refs are per-element
// no-ops; the signal is emitted regardless.
func (e Engine) RemoveTasks(ctx context.Context, daoID, caller string, questID uint64, refs []domain.TaskRef) error {
	return e.mutateQuestTasks(ctx, daoID, caller, questID, refs, false)
}

func (e Engine) mutateQuestTasks(ctx context.Context, daoID, caller string, questID uint64, refs []domain.TaskRef, add bool) error {
	admin, err := e.Oracle.IsAdmin(ctx, daoID, caller)
	if err != nil {
		return err
	}
	if !admin {
		return ErrNotAdmin
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetQuestTx(ctx, tx, daoID, questID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrNoSuchQuest
		}
		return err
	}
	if add {
		for _, ref := range refs {
			registered, err := e.Repo.IsPluginRegisteredForDAOTx(ctx, tx, daoID, ref.PluginTypeID)
			if err != nil {
				return err
			}
			if !registered {
				return ErrInvalidPlugin
			}
		}
		if err := e.Repo.AddQuestTasks(ctx, tx, daoID, questID, refs); err != nil {
			return err
		}
	} else {
		if err := e.Repo.RemoveQuestTasks(ctx, tx, daoID, questID, refs); err != nil {
			return err
		}
	}
	count, err := e.Repo.SyncQuestTasksCount(ctx, tx, daoID, questID)
	if err != nil {
		return err
	}
	evtType := "quest.tasks_removed"
	if add {
		evtType = "quest.tasks_added"
	}
	if err := e.Events.Append(ctx, tx, evtType, daoID, "quest", fmt.Sprint(questID), caller, events.EventPayload{
		"refs":        refsPayload(refs),
		"tasks_count": count,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func refsPayload(refs []domain.TaskRef) []map[string]uint64 {
	out := make([]map[string]uint64, 0, len(refs))
	for _, ref := range refs {
		out = append(out, map[string]uint64{
			"plugin_type_id": ref.PluginTypeID,
			"task_id":        ref.TaskID,
		})
	}
	return out
}

// TasksPerQuest returns the quest's task refs in insertion order.
func (e Engine) TasksPerQuest(ctx context.Context, daoID string, questID uint64) ([]domain.TaskRef, error) {
	if _, err := e.GetQuest(ctx, daoID, questID); err != nil {
		return nil, err
	}
	return e.Repo.ListQuestTasks(ctx, daoID, questID)
}

func (e Engine) GetQuest(ctx context.Context, daoID string, questID uint64) (domain.Quest, error) {
	q, err := e.Repo.GetQuest(ctx, daoID, questID)
	if errors.Is(err, repo.ErrNotFound) {
		return q, ErrNoSuchQuest
	}
	return q, err
}

// TaskCreateOptions are parameters for creating a task on a plugin's board
// and referencing it from a quest in the same transaction.
type TaskCreateOptions struct {
	DAOID        string
	Caller       string
	QuestID      uint64
	PluginTypeID uint64
	Role         int
	URI          string
	StartTime    int64
	EndTime      int64
}

// CreateQuestTask writes a task into the plugin type's own board and
// appends its ref to the quest. The board is the plugin's authority; the
// plain AddTasks path never reads it.
func (e Engine) CreateQuestTask(ctx context.Context, opts TaskCreateOptions) (domain.PluginTask, error) {
	admin, err := e.Oracle.IsAdmin(ctx, opts.DAOID, opts.Caller)
	if err != nil {
		return domain.PluginTask{}, err
	}
	if !admin {
		return domain.PluginTask{}, ErrNotAdmin
	}
	if opts.StartTime >= opts.EndTime {
		return domain.PluginTask{}, ErrInvalidWindow
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.PluginTask{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetQuestTx(ctx, tx, opts.DAOID, opts.QuestID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return domain.PluginTask{}, ErrNoSuchQuest
		}
		return domain.PluginTask{}, err
	}
	registered, err := e.Repo.IsPluginRegisteredForDAOTx(ctx, tx, opts.DAOID, opts.PluginTypeID)
	if err != nil {
		return domain.PluginTask{}, err
	}
	if !registered {
		return domain.PluginTask{}, ErrInvalidPlugin
	}
	taskID, err := e.Repo.NextPluginTaskID(ctx, tx, opts.DAOID, opts.PluginTypeID)
	if err != nil {
		return domain.PluginTask{}, err
	}
	t := domain.PluginTask{
		DAOID:        opts.DAOID,
		PluginTypeID: opts.PluginTypeID,
		ID:           taskID,
		Role:         opts.Role,
		URI:          opts.URI,
		StartTime:    opts.StartTime,
		EndTime:      opts.EndTime,
		Creator:      opts.Caller,
		CreatedAt:    e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertPluginTask(ctx, tx, t); err != nil {
		return domain.PluginTask{}, fmt.Errorf("insert plugin task: %w", err)
	}
	ref := domain.TaskRef{PluginTypeID: opts.PluginTypeID, TaskID: taskID}
	if err := e.Repo.AddQuestTasks(ctx, tx, opts.DAOID, opts.QuestID, []domain.TaskRef{ref}); err != nil {
		return domain.PluginTask{}, err
	}
	count, err := e.Repo.SyncQuestTasksCount(ctx, tx, opts.DAOID, opts.QuestID)
	if err != nil {
		return domain.PluginTask{}, err
	}
	if err := e.Events.Append(ctx, tx, "task.created", opts.DAOID, "plugin_task", fmt.Sprint(taskID), opts.Caller, events.EventPayload{
		"plugin_type_id": opts.PluginTypeID,
		"uri":            opts.URI,
	}); err != nil {
		return domain.PluginTask{}, err
	}
	if err := e.Events.Append(ctx, tx, "quest.tasks_added", opts.DAOID, "quest", fmt.Sprint(opts.QuestID), opts.Caller, events.EventPayload{
		"refs":        refsPayload([]domain.TaskRef{ref}),
		"tasks_count": count,
	}); err != nil {
		return domain.PluginTask{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.PluginTask{}, err
	}
	return t, nil
}
