// Package twin applies desired configuration to the bridge runtime state and
// acknowledges what was applied.
package twin

import (
	"context"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/n0needt0/go-goodies/log"
	"github.com/pkg/errors"

	"github.com/n0needt0/goodies/udp-bridge/domain"
	"github.com/n0needt0/goodies/udp-bridge/services"
)

// Recognized desired configuration keys
const (
	KeyListeningPort   = "listeningPort"
	KeyMinimumSeverity = "minimumSeverity"
)

// Update is a sparse desired configuration. A key mapped to nil is an
// explicit null and resets the field to its default.
type Update map[string]interface{}

// Delta holds the applied keys and their resulting values
type Delta map[string]interface{}

// Emitter delivers diagnostic events on a best-effort basis
type Emitter interface {
	Emit(ctx context.Context, ev domain.DiagnosticEvent)
}

type Reconciler struct {
	services    *services.Services
	diagnostics Emitter
}

func NewReconciler(services *services.Services, diagnostics Emitter) *Reconciler {
	return &Reconciler{
		services:    services,
		diagnostics: diagnostics,
	}
}

// ApplyDocument decodes raw as a JSON object and applies it. Anything that is
// not an object rejects the whole update.
func (r *Reconciler) ApplyDocument(ctx context.Context, raw []byte) (Delta, error) {
	var update Update
	err := sonic.Unmarshal(raw, &update)
	if err == nil && update == nil {
		err = errors.New("expected an object, got null")
	}
	if err != nil {
		malformed := domain.MalformedUpdate{Err: err}
		log.Errorf("error when receiving desired configuration: %v", malformed)
		r.diagnostics.Emit(ctx, domain.DiagnosticEvent{
			Severity: domain.SeverityError,
			Code:     domain.CodeMalformedConfigData,
			Message:  "Error when receiving desired configuration: " + malformed.Error(),
		})
		return nil, malformed
	}

	return r.Apply(ctx, update), nil
}

// Apply assigns every recognized key in update. A key that fails to parse is
// reported and skipped; the others are still applied.
func (r *Reconciler) Apply(ctx context.Context, update Update) Delta {
	delta := Delta{}

	if len(update) == 0 {
		log.Info("empty desired configuration ignored")
		return delta
	}

	log.Infof("desired configuration change: %s", describe(update))

	runtime := r.services.Runtime

	for _, key := range sortedKeys(update) {
		value := update[key]

		switch key {
		case KeyListeningPort:
			port := runtime.DefaultListeningPort()
			if value != nil {
				p, err := parsePort(value)
				if err != nil {
					r.reportInvalid(ctx, domain.InvalidValue{Key: key, Value: value, Err: err})
					continue
				}
				port = p
			}
			runtime.SetListeningPort(port)
			delta[key] = port
			log.Infof("listening port changed to %d", port)

		case KeyMinimumSeverity:
			severity := runtime.DefaultMinimumSeverity()
			if value != nil {
				s, err := parseSeverity(value)
				if err != nil {
					r.reportInvalid(ctx, domain.InvalidValue{Key: key, Value: value, Err: err})
					continue
				}
				severity = s
			}
			runtime.SetMinimumSeverity(severity)
			delta[key] = int(severity)
			log.Infof("minimum severity changed to '%s'", severity)

		default:
			log.Debugf("desired configuration key %s ignored", key)
		}
	}

	if port, ok := delta[KeyListeningPort].(int); ok && r.restartPending(port) {
		log.Warnf("listening port change to %d takes effect after restart", port)
	}

	if len(delta) > 0 {
		r.services.BridgeStats.ConfigUpdates.Add(1)
		services.Add(ctx, r.services.Metrics.ConfigUpdates, 1)
	}

	return delta
}

// restartPending reports whether the listener already holds a port other
// than port. Before the first bind the new value is simply used.
func (r *Reconciler) restartPending(port int) bool {
	l := r.services.Listener
	if l == nil {
		return false
	}
	bound := l.BoundPort()
	return bound != 0 && bound != port
}

func (r *Reconciler) reportInvalid(ctx context.Context, invalid domain.InvalidValue) {
	log.Errorf("desired configuration change error: %v", invalid)
	r.diagnostics.Emit(ctx, domain.DiagnosticEvent{
		Severity: domain.SeverityError,
		Code:     domain.CodeInvalidConfigValue,
		Message:  "Desired configuration change error: " + invalid.Error(),
	})
}

// parsePort accepts an integral JSON number or a base-10 string
func parsePort(value interface{}) (int, error) {
	var port int64

	switch v := value.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, errors.Errorf("port %v is not an integer", v)
		}
		if v < 1 || v > 65535 {
			return 0, errors.Errorf("port %v out of range", v)
		}
		port = int64(v)
	case int:
		port = int64(v)
	case int64:
		port = v
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 32)
		if err != nil {
			return 0, errors.Wrap(err, "port is not numeric")
		}
		port = n
	default:
		return 0, errors.Errorf("unsupported port type %T", value)
	}

	if port < 1 || port > 65535 {
		return 0, errors.Errorf("port %d out of range", port)
	}
	return int(port), nil
}

// parseSeverity accepts an integral ordinal or a severity name
func parseSeverity(value interface{}) (domain.Severity, error) {
	switch v := value.(type) {
	case float64:
		if v != math.Trunc(v) || v < math.MinInt32 || v > math.MaxInt32 {
			return 0, errors.Errorf("severity %v is not an ordinal", v)
		}
		return domain.SeverityFromOrdinal(int(v))
	case int:
		return domain.SeverityFromOrdinal(v)
	case int64:
		if v < math.MinInt32 || v > math.MaxInt32 {
			return 0, errors.Errorf("severity %d is not an ordinal", v)
		}
		return domain.SeverityFromOrdinal(int(v))
	case string:
		return domain.ParseSeverity(v)
	default:
		return 0, errors.Errorf("unsupported severity type %T", value)
	}
}

func sortedKeys(update Update) []string {
	keys := make([]string, 0, len(update))
	for k := range update {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func describe(update Update) string {
	data, err := sonic.Marshal(update)
	if err != nil {
		return "<unprintable>"
	}
	return string(data)
}
