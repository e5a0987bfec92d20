// Package distribution hands published manuals to tenant companies as
// UNRELEASED copies that tenant admins review before release.
package distribution

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"nexus/manuals/internal/store"
	"nexus/manuals/internal/util"
)

// Store is the repository surface distribution needs.
type Store interface {
	ActiveCompanyIDs(ctx context.Context) ([]string, error)
	CompanyIDsWithTags(ctx context.Context, tagIDs []string) ([]string, error)
	TenantCopyCompanyIDs(ctx context.Context, manualID string) ([]string, error)
	InsertTenantCopy(ctx context.Context, item store.TenantManualCopy) (bool, error)
}

type Result struct {
	Recipients int `json:"recipients"`
	Created    int `json:"created"`
	Skipped    int `json:"skipped"`
}

type Distributor struct {
	store  Store
	logger logrus.FieldLogger
	newID  func() string
}

func NewDistributor(s Store, logger logrus.FieldLogger) *Distributor {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Distributor{
		store:  s,
		logger: logger,
		newID:  func() string { return util.NewID("tmc") },
	}
}

// Recipients resolves the target companies of a manual, each listed once.
func (d *Distributor) Recipients(ctx context.Context, manual store.Manual) ([]string, error) {
	var (
		ids []string
		err error
	)
	switch {
	case manual.PublishToAllTenants:
		ids, err = d.store.ActiveCompanyIDs(ctx)
	case len(manual.TargetTagIDs) > 0:
		ids, err = d.store.CompanyIDsWithTags(ctx, manual.TargetTagIDs)
	default:
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}
	return dedupe(ids), nil
}

// Distribute creates an UNRELEASED copy for every recipient that has none.
// Existing copies are left as they are, so repeated calls are no-ops.
func (d *Distributor) Distribute(ctx context.Context, manual store.Manual, userID string) (Result, error) {
	recipients, err := d.Recipients(ctx, manual)
	if err != nil {
		return Result{}, err
	}
	result := Result{Recipients: len(recipients)}
	if len(recipients) == 0 {
		return result, nil
	}

	existing, err := d.store.TenantCopyCompanyIDs(ctx, manual.ID)
	if err != nil {
		return result, fmt.Errorf("list existing copies: %w", err)
	}
	have := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		have[id] = struct{}{}
	}

	for _, companyID := range recipients {
		if _, ok := have[companyID]; ok {
			result.Skipped++
			continue
		}
		created, err := d.store.InsertTenantCopy(ctx, store.TenantManualCopy{
			ID:                  d.newID(),
			CompanyID:           companyID,
			SourceManualID:      manual.ID,
			SourceManualVersion: manual.CurrentVersion,
			Title:               manual.Title,
			ReceivedByUserID:    userID,
			Status:              store.TenantCopyUnreleased,
		})
		if err != nil {
			return result, fmt.Errorf("create tenant copy for %s: %w", companyID, err)
		}
		// lost a race with a concurrent publish
		if !created {
			result.Skipped++
			continue
		}
		result.Created++
	}

	d.logger.WithFields(logrus.Fields{
		"manual_id":  manual.ID,
		"version":    manual.CurrentVersion,
		"recipients": result.Recipients,
		"created":    result.Created,
		"skipped":    result.Skipped,
	}).Info("manual distributed")
	return result, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
