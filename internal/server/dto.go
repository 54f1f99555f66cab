package server

import (
	"github.com/sergeytimoshin/aut-contracts/internal/domain"
)

// Request payloads

type CreateDAORequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	MetadataURI *string `json:"metadata_uri,omitempty"`
	Market      *int    `json:"market,omitempty"`
}

type MintMemberRequest struct {
	Username    *string `json:"username,omitempty"`
	Role        int     `json:"role" minimum:"1" maximum:"3"`
	Commitment  int     `json:"commitment" minimum:"1" maximum:"10"`
	MetadataURI *string `json:"metadata_uri,omitempty"`
}

type CreateProposalRequest struct {
	MetadataRef string `json:"metadata_ref"`
	StartTime   int64  `json:"start_time"`
	EndTime     int64  `json:"end_time"`
}

type VoteRequest struct {
	Support bool `json:"support"`
}

type AddPluginDefinitionRequest struct {
	ImplAddress string `json:"impl_address"`
	BaseURI     string `json:"base_uri,omitempty"`
	Kind        int    `json:"kind,omitempty"`
}

type AttachPluginRequest struct {
	PluginTypeID uint64 `json:"plugin_type_id"`
	ImplAddress  string `json:"impl_address,omitempty"`
}

type CreateQuestRequest struct {
	MetadataRef  string `json:"metadata_ref"`
	RequiredRole int    `json:"required_role,omitempty"`
}

type TaskRefRequest struct {
	PluginTypeID uint64 `json:"plugin_type_id"`
	TaskID       uint64 `json:"task_id"`
}

type MutateQuestTasksRequest struct {
	Refs []TaskRefRequest `json:"refs"`
}

type CreateQuestTaskRequest struct {
	PluginTypeID uint64 `json:"plugin_type_id"`
	Role         int    `json:"role,omitempty"`
	URI          string `json:"uri"`
	StartTime    int64  `json:"start_time"`
	EndTime      int64  `json:"end_time"`
}

// Response payloads

type DAOResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MetadataURI string `json:"metadata_uri,omitempty"`
	Market      int    `json:"market,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type MemberResponse struct {
	DAOID       string `json:"dao_id"`
	Identity    string `json:"identity"`
	Username    string `json:"username,omitempty"`
	Role        int    `json:"role"`
	Commitment  int    `json:"commitment"`
	MetadataURI string `json:"metadata_uri,omitempty"`
	Admin       bool   `json:"admin"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type ProposalResponse struct {
	DAOID       string `json:"dao_id"`
	ID          uint64 `json:"id"`
	MetadataRef string `json:"metadata_ref"`
	StartTime   int64  `json:"start_time"`
	EndTime     int64  `json:"end_time"`
	YesWeight   uint64 `json:"yes_weight"`
	NoWeight    uint64 `json:"no_weight"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type ActiveProposalsResponse struct {
	IDs []uint64 `json:"ids"`
}

type PluginDefinitionResponse struct {
	PluginTypeID uint64 `json:"plugin_type_id"`
	ImplAddress  string `json:"impl_address"`
	BaseURI      string `json:"base_uri,omitempty"`
	Kind         int    `json:"kind"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type PluginInstanceResponse struct {
	DAOID        string `json:"dao_id"`
	InstanceID   uint64 `json:"instance_id"`
	PluginTypeID uint64 `json:"plugin_type_id"`
	ImplAddress  string `json:"impl_address,omitempty"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type PluginRegisteredResponse struct {
	DAOID        string `json:"dao_id"`
	PluginTypeID uint64 `json:"plugin_type_id"`
	Registered   bool   `json:"registered"`
}

type QuestResponse struct {
	DAOID        string `json:"dao_id"`
	ID           uint64 `json:"id"`
	MetadataRef  string `json:"metadata_ref"`
	RequiredRole int    `json:"required_role"`
	TasksCount   int    `json:"tasks_count"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type TaskRefResponse struct {
	PluginTypeID uint64 `json:"plugin_type_id"`
	TaskID       uint64 `json:"task_id"`
}

type PluginTaskResponse struct {
	DAOID        string `json:"dao_id"`
	PluginTypeID uint64 `json:"plugin_type_id"`
	ID           uint64 `json:"id"`
	Role         int    `json:"role"`
	URI          string `json:"uri"`
	StartTime    int64  `json:"start_time"`
	EndTime      int64  `json:"end_time"`
	Creator      string `json:"creator"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	DAOID      string `json:"dao_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Mapping helpers

func daoResponse(d domain.DAO) DAOResponse {
	return DAOResponse{ID: d.ID, Name: d.Name, MetadataURI: d.MetadataURI, Market: d.Market, CreatedAt: d.CreatedAt}
}

func mapDAOs(in []domain.DAO) []DAOResponse {
	out := make([]DAOResponse, 0, len(in))
	for _, d := range in {
		out = append(out, daoResponse(d))
	}
	return out
}

func memberResponse(m domain.Member) MemberResponse {
	return MemberResponse{
		DAOID:       m.DAOID,
		Identity:    m.Identity,
		Username:    m.Username,
		Role:        m.Role,
		Commitment:  m.Commitment,
		MetadataURI: m.MetadataURI,
		Admin:       m.Admin,
		CreatedAt:   m.CreatedAt,
	}
}

func mapMembers(in []domain.Member) []MemberResponse {
	out := make([]MemberResponse, 0, len(in))
	for _, m := range in {
		out = append(out, memberResponse(m))
	}
	return out
}

func proposalResponse(p domain.Proposal) ProposalResponse {
	return ProposalResponse{
		DAOID:       p.DAOID,
		ID:          p.ID,
		MetadataRef: p.MetadataRef,
		StartTime:   p.StartTime,
		EndTime:     p.EndTime,
		YesWeight:   p.YesWeight,
		NoWeight:    p.NoWeight,
		CreatedAt:   p.CreatedAt,
	}
}

func mapProposals(in []domain.Proposal) []ProposalResponse {
	out := make([]ProposalResponse, 0, len(in))
	for _, p := range in {
		out = append(out, proposalResponse(p))
	}
	return out
}

func definitionResponse(d domain.PluginDefinition) PluginDefinitionResponse {
	return PluginDefinitionResponse{
		PluginTypeID: d.ID,
		ImplAddress:  d.ImplAddress,
		BaseURI:      d.BaseURI,
		Kind:         d.Kind,
		CreatedAt:    d.CreatedAt,
	}
}

func mapDefinitions(in []domain.PluginDefinition) []PluginDefinitionResponse {
	out := make([]PluginDefinitionResponse, 0, len(in))
	for _, d := range in {
		out = append(out, definitionResponse(d))
	}
	return out
}

func instanceResponse(i domain.PluginInstance) PluginInstanceResponse {
	return PluginInstanceResponse{
		DAOID:        i.DAOID,
		InstanceID:   i.ID,
		PluginTypeID: i.PluginTypeID,
		ImplAddress:  i.ImplAddress,
		CreatedAt:    i.CreatedAt,
	}
}

func mapInstances(in []domain.PluginInstance) []PluginInstanceResponse {
	out := make([]PluginInstanceResponse, 0, len(in))
	for _, i := range in {
		out = append(out, instanceResponse(i))
	}
	return out
}

func questResponse(q domain.Quest) QuestResponse {
	return QuestResponse{
		DAOID:        q.DAOID,
		ID:           q.ID,
		MetadataRef:  q.MetadataRef,
		RequiredRole: q.RequiredRole,
		TasksCount:   q.TasksCount,
		CreatedAt:    q.CreatedAt,
	}
}

func mapQuests(in []domain.Quest) []QuestResponse {
	out := make([]QuestResponse, 0, len(in))
	for _, q := range in {
		out = append(out, questResponse(q))
	}
	return out
}

func mapTaskRefs(in []domain.TaskRef) []TaskRefResponse {
	out := make([]TaskRefResponse, 0, len(in))
	for _, ref := range in {
		out = append(out, TaskRefResponse{PluginTypeID: ref.PluginTypeID, TaskID: ref.TaskID})
	}
	return out
}

func taskRefsFromRequest(in []TaskRefRequest) []domain.TaskRef {
	out := make([]domain.TaskRef, 0, len(in))
	for _, ref := range in {
		out = append(out, domain.TaskRef{PluginTypeID: ref.PluginTypeID, TaskID: ref.TaskID})
	}
	return out
}

func pluginTaskResponse(t domain.PluginTask) PluginTaskResponse {
	return PluginTaskResponse{
		DAOID:        t.DAOID,
		PluginTypeID: t.PluginTypeID,
		ID:           t.ID,
		Role:         t.Role,
		URI:          t.URI,
		StartTime:    t.StartTime,
		EndTime:      t.EndTime,
		Creator:      t.Creator,
		CreatedAt:    t.CreatedAt,
	}
}

func mapEvents(in []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(in))
	for _, e := range in {
		out = append(out, EventResponse{
			ID:         e.ID,
			TS:         e.TS,
			Type:       e.Type,
			DAOID:      e.DAOID,
			EntityKind: e.EntityKind,
			EntityID:   e.EntityID,
			ActorID:    e.ActorID,
			Payload:    e.Payload,
		})
	}
	return out
}

func stringOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func intOrZero(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
