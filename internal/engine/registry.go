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

// The plugin registry is a global catalog of plugin types plus per-DAO
// attachment lists. Entries are never removed; a new version of a plugin is
// a new definition id.

// AddPluginDefinition registers a new plugin type. Registry-global admin
// only. The assigned id is carried on the emitted signal; callers cannot
// predict it.
func (e Engine) AddPluginDefinition(ctx context.Context, caller, implAddress, baseURI string, kind int) (uint64, error) {
	if !e.Config.IsRegistryAdmin(caller) {
		return 0, ErrNotAdmin
	}
	if implAddress == "" {
		return 0, errors.New("impl address is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	id, err := e.Repo.NextPluginDefinitionID(ctx, tx)
	if err != nil {
		return 0, err
	}
	def := domain.PluginDefinition{
		ID:          id,
		ImplAddress: implAddress,
		BaseURI:     baseURI,
		Kind:        kind,
		CreatedAt:   e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertPluginDefinition(ctx, tx, def); err != nil {
		return 0, fmt.Errorf("insert plugin definition: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "plugin.definition.added", "", "plugin_definition", fmt.Sprint(id), caller, events.EventPayload{
		"plugin_type_id": id,
		"impl_address":   implAddress,
	}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// AddPluginToDAO attaches a registered plugin type to one DAO, allocating
// the next per-DAO instance id.
func (e Engine) AddPluginToDAO(ctx context.Context, caller, daoID, implAddress string, pluginTypeID uint64) (uint64, error) {
	admin, err := e.Oracle.IsAdmin(ctx, daoID, caller)
	if err != nil {
		return 0, err
	}
	if !admin {
		return 0, ErrNotOrgAdmin
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	exists, err := e.Repo.PluginDefinitionExistsTx(ctx, tx, pluginTypeID)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, ErrUnknownPluginType
	}
	id, err := e.Repo.NextPluginInstanceID(ctx, tx, daoID)
	if err != nil {
		return 0, err
	}
	inst := domain.PluginInstance{
		DAOID:        daoID,
		ID:           id,
		PluginTypeID: pluginTypeID,
		ImplAddress:  implAddress,
		CreatedAt:    e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertPluginInstance(ctx, tx, inst); err != nil {
		return 0, fmt.Errorf("insert plugin instance: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "plugin.added_to_dao", daoID, "plugin_instance", fmt.Sprint(id), caller, events.EventPayload{
		"instance_id":    id,
		"plugin_type_id": pluginTypeID,
		"dao_id":         daoID,
	}); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return id, nil
}

// IsPluginRegisteredForDAO reports whether a plugin type has at least one
// instance attached to the DAO.
func (e Engine) IsPluginRegisteredForDAO(ctx context.Context, daoID string, pluginTypeID uint64) (bool, error) {
	return e.Repo.IsPluginRegisteredForDAO(ctx, daoID, pluginTypeID)
}

func (e Engine) GetPluginDefinition(ctx context.Context, id uint64) (domain.PluginDefinition, error) {
	def, err := e.Repo.GetPluginDefinition(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return def, ErrUnknownPluginType
	}
	return def, err
}
