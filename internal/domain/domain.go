package domain

// DAO is an organization owning its own members, proposals, quests and
// plugin instances. All other collections are partitioned by its ID.
type DAO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	MetadataURI string `json:"metadata_uri,omitempty"`
	Market      int    `json:"market,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// Member is one identity's membership in a DAO. Role drives vote weight,
// commitment is informational, Admin gates registry/quest mutations.
type Member struct {
	DAOID       string `json:"dao_id"`
	Identity    string `json:"identity"`
	Username    string `json:"username,omitempty"`
	Role        int    `json:"role"`
	Commitment  int    `json:"commitment"`
	MetadataURI string `json:"metadata_uri,omitempty"`
	Admin       bool   `json:"admin"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Proposal struct {
	DAOID       string `json:"dao_id"`
	ID          uint64 `json:"id"`
	MetadataRef string `json:"metadata_ref"`
	StartTime   int64  `json:"start_time"`
	EndTime     int64  `json:"end_time"`
	YesWeight   uint64 `json:"yes_weight"`
	NoWeight    uint64 `json:"no_weight"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// VoteRecord marks one identity's single vote on a proposal. Weight is the
// value accumulated into the tally at vote time; later role changes do not
// touch it.
type VoteRecord struct {
	DAOID      string `json:"dao_id"`
	ProposalID uint64 `json:"proposal_id"`
	Identity   string `json:"identity"`
	Support    bool   `json:"support"`
	Weight     uint64 `json:"weight"`
	VotedAt    string `json:"voted_at" format:"date-time"`
}

// PluginDefinition is a globally registered plugin type. Definitions are
// never removed; new versions get new ids.
type PluginDefinition struct {
	ID          uint64 `json:"id"`
	ImplAddress string `json:"impl_address"`
	BaseURI     string `json:"base_uri"`
	Kind        int    `json:"kind"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

// PluginInstance attaches a plugin type to one DAO.
type PluginInstance struct {
	DAOID        string `json:"dao_id"`
	ID           uint64 `json:"id"`
	PluginTypeID uint64 `json:"plugin_type_id"`
	ImplAddress  string `json:"impl_address"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

type Quest struct {
	DAOID        string `json:"dao_id"`
	ID           uint64 `json:"id"`
	MetadataRef  string `json:"metadata_ref"`
	RequiredRole int    `json:"required_role"`
	TasksCount   int    `json:"tasks_count"`
	CreatedAt    string `json:"created_at" format:"date-time"`
}

// TaskRef points a quest at an externally managed task. Equality is on both
// fields; the referenced task is never dereferenced by the quest engine.
type TaskRef struct {
	PluginTypeID uint64 `json:"plugin_type_id"`
	TaskID       uint64 `json:"task_id"`
}

// PluginTask lives in a plugin type's own task board within one DAO. Quests
// reference these only by (plugin_type_id, id); the board is the plugin's
// authority, not the quest engine's.
type PluginTask struct {
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

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	DAOID      string `json:"dao_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	Identity  string `json:"identity"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
