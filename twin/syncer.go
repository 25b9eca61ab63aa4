package twin

import (
	"context"
	"sync"

	"github.com/n0needt0/go-goodies/log"
	"github.com/pkg/errors"

	"github.com/n0needt0/goodies/udp-bridge/bus"
	"github.com/n0needt0/goodies/udp-bridge/domain"
)

// Syncer applies the desired document once at startup and then on every
// change notification, reporting each applied delta back to the store.
type Syncer struct {
	reconciler  *Reconciler
	store       bus.TwinStore
	diagnostics Emitter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSyncer(reconciler *Reconciler, store bus.TwinStore, diagnostics Emitter) *Syncer {
	return &Syncer{
		reconciler:  reconciler,
		store:       store,
		diagnostics: diagnostics,
	}
}

// Start reconciles the current desired document and begins watching for
// changes in the background. The watch is registered before the fetch, so a
// change landing in between is applied, at worst twice.
func (s *Syncer) Start(ctx context.Context) error {
	watchCtx, cancel := context.WithCancel(ctx)

	updates, err := s.store.WatchDesired(watchCtx)
	if err != nil {
		cancel()
		return errors.Wrap(err, "failed to watch desired configuration")
	}

	doc, err := s.store.Desired(ctx)
	if err != nil {
		cancel()
		return errors.Wrap(err, "failed to fetch desired configuration")
	}

	if len(doc) > 0 {
		s.handle(ctx, doc)
	} else {
		log.Info("no desired configuration stored, running with defaults")
	}

	log.Infof("supported desired properties: %s, %s", KeyListeningPort, KeyMinimumSeverity)

	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for doc := range updates {
			if watchCtx.Err() != nil {
				return
			}
			s.handle(watchCtx, doc)
		}
		log.Debug("desired configuration watch ended")
	}()

	return nil
}

// Stop ends the watch and waits for an in-progress update to finish
func (s *Syncer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *Syncer) handle(ctx context.Context, doc []byte) {
	delta, err := s.reconciler.ApplyDocument(ctx, doc)
	if err != nil || len(delta) == 0 {
		return
	}

	if err := s.store.Report(ctx, delta); err != nil {
		log.Errorf("desired configuration change error: failed to report %v: %v", delta, err)
		s.diagnostics.Emit(ctx, domain.DiagnosticEvent{
			Severity: domain.SeverityError,
			Code:     domain.CodeAcknowledgeFailed,
			Message:  "Desired configuration change error: " + err.Error(),
		})
		return
	}

	log.Infof("reported configuration: %s", describe(Update(delta)))
}
