package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/sergeytimoshin/aut-contracts/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- DAOs ---

func (r Repo) InsertDAO(ctx context.Context, tx *sql.Tx, d domain.DAO) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO daos(id,name,metadata_uri,market,created_at) VALUES (?,?,?,?,?)`,
		d.ID, d.Name, nullable(d.MetadataURI), d.Market, d.CreatedAt)
	return err
}

func (r Repo) GetDAO(ctx context.Context, id string) (domain.DAO, error) {
	var d domain.DAO
	var uri sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,metadata_uri,market,created_at FROM daos WHERE id=?`, id).
		Scan(&d.ID, &d.Name, &uri, &d.Market, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	if uri.Valid {
		d.MetadataURI = uri.String
	}
	return d, err
}

func (r Repo) ListDAOs(ctx context.Context) ([]domain.DAO, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,metadata_uri,market,created_at FROM daos ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DAO
	for rows.Next() {
		var d domain.DAO
		var uri sql.NullString
		if err := rows.Scan(&d.ID, &d.Name, &uri, &d.Market, &d.CreatedAt); err != nil {
			return nil, err
		}
		if uri.Valid {
			d.MetadataURI = uri.String
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// SingleDAO returns the only DAO in the workspace, for CLI defaulting.
func (r Repo) SingleDAO(ctx context.Context) (domain.DAO, error) {
	items, err := r.ListDAOs(ctx)
	if err != nil {
		return domain.DAO{}, err
	}
	if len(items) == 0 {
		return domain.DAO{}, ErrNotFound
	}
	if len(items) > 1 {
		return domain.DAO{}, fmt.Errorf("multiple DAOs exist; specify --dao")
	}
	return items[0], nil
}

// --- Members ---

func (r Repo) InsertMember(ctx context.Context, tx *sql.Tx, m domain.Member) error {
	admin := 0
	if m.Admin {
		admin = 1
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO members(dao_id,identity,username,role,commitment,metadata_uri,is_admin,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		m.DAOID, m.Identity, nullable(m.Username), m.Role, m.Commitment, nullable(m.MetadataURI), admin, m.CreatedAt)
	return err
}

func (r Repo) GetMember(ctx context.Context, daoID, identity string) (domain.Member, error) {
	var m domain.Member
	var username, uri sql.NullString
	var admin int
	err := r.DB.QueryRowContext(ctx, `SELECT dao_id,identity,username,role,commitment,metadata_uri,is_admin,created_at FROM members WHERE dao_id=? AND identity=?`, daoID, identity).
		Scan(&m.DAOID, &m.Identity, &username, &m.Role, &m.Commitment, &uri, &admin, &m.CreatedAt)
	if err == sql.ErrNoRows {
		return m, ErrNotFound
	}
	if err != nil {
		return m, err
	}
	if username.Valid {
		m.Username = username.String
	}
	if uri.Valid {
		m.MetadataURI = uri.String
	}
	m.Admin = admin == 1
	return m, nil
}

func (r Repo) ListMembers(ctx context.Context, daoID string) ([]domain.Member, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT dao_id,identity,username,role,commitment,metadata_uri,is_admin,created_at FROM members WHERE dao_id=? ORDER BY created_at ASC, identity ASC`, daoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Member
	for rows.Next() {
		var m domain.Member
		var username, uri sql.NullString
		var admin int
		if err := rows.Scan(&m.DAOID, &m.Identity, &username, &m.Role, &m.Commitment, &uri, &admin, &m.CreatedAt); err != nil {
			return nil, err
		}
		if username.Valid {
			m.Username = username.String
		}
		if uri.Valid {
			m.MetadataURI = uri.String
		}
		m.Admin = admin == 1
		res = append(res, m)
	}
	return res, rows.Err()
}

// --- Proposals ---

// NextProposalID allocates the next dense id for a DAO. Proposal ids start
// at 0 and are never reused; allocation runs inside the caller's tx so the
// serialized commit order keeps it race-free.
func (r Repo) NextProposalID(ctx context.Context, tx *sql.Tx, daoID string) (uint64, error) {
	var next uint64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id)+1, 0) FROM proposals WHERE dao_id=?`, daoID).Scan(&next)
	return next, err
}

func (r Repo) InsertProposal(ctx context.Context, tx *sql.Tx, p domain.Proposal) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO proposals(dao_id,id,metadata_ref,start_time,end_time,yes_weight,no_weight,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		p.DAOID, p.ID, p.MetadataRef, p.StartTime, p.EndTime, p.YesWeight, p.NoWeight, p.CreatedAt)
	return err
}

func scanProposal(scan func(...any) error) (domain.Proposal, error) {
	var p domain.Proposal
	err := scan(&p.DAOID, &p.ID, &p.MetadataRef, &p.StartTime, &p.EndTime, &p.YesWeight, &p.NoWeight, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	return p, err
}

const proposalCols = `dao_id,id,metadata_ref,start_time,end_time,yes_weight,no_weight,created_at`

func (r Repo) GetProposal(ctx context.Context, daoID string, id uint64) (domain.Proposal, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+proposalCols+` FROM proposals WHERE dao_id=? AND id=?`, daoID, id)
	return scanProposal(row.Scan)
}

func (r Repo) GetProposalTx(ctx context.Context, tx *sql.Tx, daoID string, id uint64) (domain.Proposal, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+proposalCols+` FROM proposals WHERE dao_id=? AND id=?`, daoID, id)
	return scanProposal(row.Scan)
}

func (r Repo) ListProposals(ctx context.Context, daoID string) ([]domain.Proposal, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+proposalCols+` FROM proposals WHERE dao_id=? ORDER BY id ASC`, daoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// ActiveProposalIDs returns ids whose [start,end] window contains now, in
// ascending id order.
func (r Repo) ActiveProposalIDs(ctx context.Context, daoID string, now int64) ([]uint64, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id FROM proposals WHERE dao_id=? AND start_time<=? AND end_time>=? ORDER BY id ASC`, daoID, now, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uint64
	for rows.Next() {
		var id uint64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r Repo) CountProposals(ctx context.Context, daoID string) (uint64, error) {
	var n uint64
	err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM proposals WHERE dao_id=?`, daoID).Scan(&n)
	return n, err
}

func (r Repo) AddProposalWeight(ctx context.Context, tx *sql.Tx, daoID string, id uint64, support bool, weight uint64) error {
	col := "no_weight"
	if support {
		col = "yes_weight"
	}
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`UPDATE proposals SET %s=%s+? WHERE dao_id=? AND id=?`, col, col), weight, daoID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) HasVotedTx(ctx context.Context, tx *sql.Tx, daoID string, proposalID uint64, identity string) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM proposal_voters WHERE dao_id=? AND proposal_id=? AND identity=? LIMIT 1`, daoID, proposalID, identity)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) InsertVote(ctx context.Context, tx *sql.Tx, v domain.VoteRecord) error {
	support := 0
	if v.Support {
		support = 1
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO proposal_voters(dao_id,proposal_id,identity,support,weight,voted_at) VALUES (?,?,?,?,?,?)`,
		v.DAOID, v.ProposalID, v.Identity, support, v.Weight, v.VotedAt)
	return err
}

func (r Repo) ListVotes(ctx context.Context, daoID string, proposalID uint64) ([]domain.VoteRecord, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT dao_id,proposal_id,identity,support,weight,voted_at FROM proposal_voters WHERE dao_id=? AND proposal_id=? ORDER BY voted_at ASC, identity ASC`, daoID, proposalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.VoteRecord
	for rows.Next() {
		var v domain.VoteRecord
		var support int
		if err := rows.Scan(&v.DAOID, &v.ProposalID, &v.Identity, &support, &v.Weight, &v.VotedAt); err != nil {
			return nil, err
		}
		v.Support = support == 1
		res = append(res, v)
	}
	return res, rows.Err()
}

// --- Plugin definitions ---

func (r Repo) NextPluginDefinitionID(ctx context.Context, tx *sql.Tx) (uint64, error) {
	var next uint64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0)+1 FROM plugin_definitions`).Scan(&next)
	return next, err
}

func (r Repo) InsertPluginDefinition(ctx context.Context, tx *sql.Tx, d domain.PluginDefinition) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO plugin_definitions(id,impl_address,base_uri,kind,created_at) VALUES (?,?,?,?,?)`,
		d.ID, d.ImplAddress, d.BaseURI, d.Kind, d.CreatedAt)
	return err
}

func (r Repo) GetPluginDefinition(ctx context.Context, id uint64) (domain.PluginDefinition, error) {
	var d domain.PluginDefinition
	err := r.DB.QueryRowContext(ctx, `SELECT id,impl_address,base_uri,kind,created_at FROM plugin_definitions WHERE id=?`, id).
		Scan(&d.ID, &d.ImplAddress, &d.BaseURI, &d.Kind, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) PluginDefinitionExistsTx(ctx context.Context, tx *sql.Tx, id uint64) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM plugin_definitions WHERE id=? LIMIT 1`, id)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListPluginDefinitions(ctx context.Context) ([]domain.PluginDefinition, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,impl_address,base_uri,kind,created_at FROM plugin_definitions ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PluginDefinition
	for rows.Next() {
		var d domain.PluginDefinition
		if err := rows.Scan(&d.ID, &d.ImplAddress, &d.BaseURI, &d.Kind, &d.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// --- Plugin instances ---

func (r Repo) NextPluginInstanceID(ctx context.Context, tx *sql.Tx, daoID string) (uint64, error) {
	var next uint64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0)+1 FROM plugin_instances WHERE dao_id=?`, daoID).Scan(&next)
	return next, err
}

func (r Repo) InsertPluginInstance(ctx context.Context, tx *sql.Tx, inst domain.PluginInstance) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO plugin_instances(dao_id,id,plugin_type_id,impl_address,created_at) VALUES (?,?,?,?,?)`,
		inst.DAOID, inst.ID, inst.PluginTypeID, inst.ImplAddress, inst.CreatedAt)
	return err
}

func (r Repo) IsPluginRegisteredForDAO(ctx context.Context, daoID string, pluginTypeID uint64) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM plugin_instances WHERE dao_id=? AND plugin_type_id=? LIMIT 1`, daoID, pluginTypeID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) IsPluginRegisteredForDAOTx(ctx context.Context, tx *sql.Tx, daoID string, pluginTypeID uint64) (bool, error) {
	row := tx.QueryRowContext(ctx, `SELECT 1 FROM plugin_instances WHERE dao_id=? AND plugin_type_id=? LIMIT 1`, daoID, pluginTypeID)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

func (r Repo) ListPluginInstances(ctx context.Context, daoID string) ([]domain.PluginInstance, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT dao_id,id,plugin_type_id,impl_address,created_at FROM plugin_instances WHERE dao_id=? ORDER BY id ASC`, daoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PluginInstance
	for rows.Next() {
		var inst domain.PluginInstance
		if err := rows.Scan(&inst.DAOID, &inst.ID, &inst.PluginTypeID, &inst.ImplAddress, &inst.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, inst)
	}
	return res, rows.Err()
}

// --- Quests ---

func (r Repo) NextQuestID(ctx context.Context, tx *sql.Tx, daoID string) (uint64, error) {
	var next uint64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0)+1 FROM quests WHERE dao_id=?`, daoID).Scan(&next)
	return next, err
}

func (r Repo) InsertQuest(ctx context.Context, tx *sql.Tx, q domain.Quest) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO quests(dao_id,id,metadata_ref,required_role,tasks_count,created_at) VALUES (?,?,?,?,?,?)`,
		q.DAOID, q.ID, q.MetadataRef, q.RequiredRole, q.TasksCount, q.CreatedAt)
	return err
}

const questCols = `dao_id,id,metadata_ref,required_role,tasks_count,created_at`

func scanQuest(scan func(...any) error) (domain.Quest, error) {
	var q domain.Quest
	err := scan(&q.DAOID, &q.ID, &q.MetadataRef, &q.RequiredRole, &q.TasksCount, &q.CreatedAt)
	if err == sql.ErrNoRows {
		return q, ErrNotFound
	}
	return q, err
}

func (r Repo) GetQuest(ctx context.Context, daoID string, id uint64) (domain.Quest, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+questCols+` FROM quests WHERE dao_id=? AND id=?`, daoID, id)
	return scanQuest(row.Scan)
}

func (r Repo) GetQuestTx(ctx context.Context, tx *sql.Tx, daoID string, id uint64) (domain.Quest, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+questCols+` FROM quests WHERE dao_id=? AND id=?`, daoID, id)
	return scanQuest(row.Scan)
}

func (r Repo) ListQuests(ctx context.Context, daoID string) ([]domain.Quest, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+questCols+` FROM quests WHERE dao_id=? ORDER BY id ASC`, daoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Quest
	for rows.Next() {
		q, err := scanQuest(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, q)
	}
	return res, rows.Err()
}

// AddQuestTasks inserts refs, silently skipping pairs already present.
// Insertion order is preserved by rowid for enumeration.
func (r Repo) AddQuestTasks(ctx context.Context, tx *sql.Tx, daoID string, questID uint64, refs []domain.TaskRef) error {
	for _, ref := range refs {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO quest_tasks(dao_id,quest_id,plugin_type_id,task_id) VALUES (?,?,?,?)`,
			daoID, questID, ref.PluginTypeID, ref.TaskID); err != nil {
			return err
		}
	}
	return nil
}

// RemoveQuestTasks deletes refs; absent pairs are no-ops.
func (r Repo) RemoveQuestTasks(ctx context.Context, tx *sql.Tx, daoID string, questID uint64, refs []domain.TaskRef) error {
	for _, ref := range refs {
		if _, err := tx.ExecContext(ctx, `DELETE FROM quest_tasks WHERE dao_id=? AND quest_id=? AND plugin_type_id=? AND task_id=?`,
			daoID, questID, ref.PluginTypeID, ref.TaskID); err != nil {
			return err
		}
	}
	return nil
}

// SyncQuestTasksCount resets tasks_count to the actual collection size.
func (r Repo) SyncQuestTasksCount(ctx context.Context, tx *sql.Tx, daoID string, questID uint64) (int, error) {
	var count int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM quest_tasks WHERE dao_id=? AND quest_id=?`, daoID, questID).Scan(&count); err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE quests SET tasks_count=? WHERE dao_id=? AND id=?`, count, daoID, questID); err != nil {
		return 0, err
	}
	return count, nil
}

func (r Repo) ListQuestTasks(ctx context.Context, daoID string, questID uint64) ([]domain.TaskRef, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT plugin_type_id,task_id FROM quest_tasks WHERE dao_id=? AND quest_id=? ORDER BY rowid ASC`, daoID, questID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskRef
	for rows.Next() {
		var ref domain.TaskRef
		if err := rows.Scan(&ref.PluginTypeID, &ref.TaskID); err != nil {
			return nil, err
		}
		res = append(res, ref)
	}
	return res, rows.Err()
}

// --- Plugin task boards ---

func (r Repo) NextPluginTaskID(ctx context.Context, tx *sql.Tx, daoID string, pluginTypeID uint64) (uint64, error) {
	var next uint64
	err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id), 0)+1 FROM plugin_tasks WHERE dao_id=? AND plugin_type_id=?`, daoID, pluginTypeID).Scan(&next)
	return next, err
}

func (r Repo) InsertPluginTask(ctx context.Context, tx *sql.Tx, t domain.PluginTask) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO plugin_tasks(dao_id,plugin_type_id,id,role,uri,start_time,end_time,creator,created_at) VALUES (?,?,?,?,?,?,?,?,?)`,
		t.DAOID, t.PluginTypeID, t.ID, t.Role, t.URI, t.StartTime, t.EndTime, t.Creator, t.CreatedAt)
	return err
}

func (r Repo) GetPluginTask(ctx context.Context, daoID string, pluginTypeID, id uint64) (domain.PluginTask, error) {
	var t domain.PluginTask
	err := r.DB.QueryRowContext(ctx, `SELECT dao_id,plugin_type_id,id,role,uri,start_time,end_time,creator,created_at FROM plugin_tasks WHERE dao_id=? AND plugin_type_id=? AND id=?`,
		daoID, pluginTypeID, id).
		Scan(&t.DAOID, &t.PluginTypeID, &t.ID, &t.Role, &t.URI, &t.StartTime, &t.EndTime, &t.Creator, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListPluginTasks(ctx context.Context, daoID string, pluginTypeID uint64) ([]domain.PluginTask, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT dao_id,plugin_type_id,id,role,uri,start_time,end_time,creator,created_at FROM plugin_tasks WHERE dao_id=? AND plugin_type_id=? ORDER BY id ASC`, daoID, pluginTypeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.PluginTask
	for rows.Next() {
		var t domain.PluginTask
		if err := rows.Scan(&t.DAOID, &t.PluginTypeID, &t.ID, &t.Role, &t.URI, &t.StartTime, &t.EndTime, &t.Creator, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// --- Events ---

func (r Repo) LatestEvents(ctx context.Context, limit int, cursor int64, daoID, evtType, entityKind, entityID string) ([]domain.Event, error) {
	clauses := []string{"1=1"}
	var args []any
	if daoID != "" {
		clauses = append(clauses, "dao_id=?")
		args = append(args, daoID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if entityKind != "" {
		clauses = append(clauses, "entity_kind=?")
		args = append(args, entityKind)
	}
	if entityID != "" {
		clauses = append(clauses, "entity_id=?")
		args = append(args, entityID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(dao_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id DESC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending
// order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, daoID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"1=1"}
	var args []any
	if daoID != "" {
		clauses = append(clauses, "dao_id=?")
		args = append(args, daoID)
	}
	if cursor > 0 {
		clauses = append(clauses, "id>?")
		args = append(args, cursor)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(dao_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events %s ORDER BY id ASC LIMIT ?`, where)
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.DAOID, &e.EntityKind, &e.EntityID, &e.ActorID, &e.Payload); err != nil {
			return nil, err
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID, optionally scoped to a
// DAO.
func (r Repo) LatestEventID(ctx context.Context, daoID string) (int64, error) {
	query := `SELECT COALESCE(MAX(id),0) FROM events`
	var args []any
	if daoID != "" {
		query += ` WHERE dao_id=?`
		args = append(args, daoID)
	}
	row := r.DB.QueryRowContext(ctx, query, args...)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
