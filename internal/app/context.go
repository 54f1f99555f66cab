package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/sergeytimoshin/aut-contracts/internal/config"
	"github.com/sergeytimoshin/aut-contracts/internal/repo"
)

// ResolveDAO picks the active DAO for a CLI call. It prefers the explicit
// override, then the config default, then a single-DAO workspace.
func ResolveDAO(ctx context.Context, cfg *config.Config, daoOverride string, r repo.Repo) (string, error) {
	daoID := daoOverride
	if daoID == "" && cfg != nil {
		daoID = cfg.DAO.ID
	}
	if daoID == "" {
		d, err := r.SingleDAO(ctx)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return "", fmt.Errorf("no DAO found; create one with 'autd dao create' or pass --dao")
			}
			return "", err
		}
		daoID = d.ID
	}
	if _, err := r.GetDAO(ctx, daoID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return "", fmt.Errorf("dao %s not found", daoID)
		}
		return "", err
	}
	return daoID, nil
}
