package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/marcus/posync/internal/db"
	"github.com/marcus/posync/internal/models"
	"github.com/marcus/posync/internal/offline"
	"github.com/marcus/posync/internal/posclient"
	"github.com/marcus/posync/internal/queue"
)

// openEngine opens the local store with the resolved settings. Options can
// be adjusted by the caller before the engine is built.
func openEngine(adjust ...func(*offline.Options)) (*offline.Engine, error) {
	if settings == nil {
		return nil, errors.New("settings not loaded")
	}
	client := posclient.New(settings.ServerURL, settings.APIKey, settings.TerminalID, settings.RequestTimeout)

	opts := offline.Options{
		DataDir:        settings.DataDir,
		Backend:        client,
		StartOnline:    !offlineMode,
		AttemptTimeout: settings.RequestTimeout,
		Backoff: queue.Backoff{
			Base:   settings.BackoffBase,
			Max:    settings.BackoffMax,
			Jitter: queue.DefaultBackoff.Jitter,
		},
	}
	for _, fn := range adjust {
		fn(&opts)
	}

	e, err := offline.Open(opts)
	if err != nil {
		if errors.Is(err, db.ErrLocked) {
			return nil, fmt.Errorf("%w: another posync process is using %s", err, settings.DataDir)
		}
		return nil, err
	}
	return e, nil
}

// resolveToken finds the stored operation whose token starts with prefix
func resolveToken(ctx context.Context, e *offline.Engine, prefix string) (models.PendingOperation, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return models.PendingOperation{}, errors.New("empty token")
	}
	ops, err := e.ListPending(ctx)
	if err != nil {
		return models.PendingOperation{}, err
	}

	var matches []models.PendingOperation
	for _, op := range ops {
		if op.Token == prefix {
			return op, nil
		}
		if strings.HasPrefix(op.Token, prefix) {
			matches = append(matches, op)
		}
	}
	switch len(matches) {
	case 0:
		return models.PendingOperation{}, fmt.Errorf("%w: %s", db.ErrNotFound, prefix)
	case 1:
		return matches[0], nil
	default:
		return models.PendingOperation{}, fmt.Errorf("token prefix %q matches %d operations", prefix, len(matches))
	}
}
