package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	albon "github.com/coolguy916/Monitor-Framework-ALBON"
	"github.com/coolguy916/Monitor-Framework-ALBON/internal/protocol"
)

// IngestConfig carries the persistence-facing part of the server
// configuration.
type IngestConfig struct {
	// Table is the destination table/collection name.
	Table string
	// RequiredFields maps a data category to the fields that must be
	// present and non-empty before the payload may reach the store. The
	// "" key applies to categories without an explicit entry.
	RequiredFields map[string][]string
	// EncryptedFields are stored in encrypted form, never as plaintext.
	EncryptedFields []string
	// Validate toggles the required-field checks.
	Validate bool
}

// Ingest accepts fire-and-forget payloads, validates them, annotates them
// with the producer's identity and receipt time and persists them through
// the store. Store failures are reported to the caller, never swallowed and
// never fatal to the connection.
type Ingest struct {
	store albon.Store
	enc   albon.Encryptor
	cfg   IngestConfig
	log   zerolog.Logger
}

func NewIngest(store albon.Store, enc albon.Encryptor, cfg IngestConfig, log zerolog.Logger) *Ingest {
	return &Ingest{
		store: store,
		enc:   enc,
		cfg:   cfg,
		log:   log.With().Str("component", "ingest").Logger(),
	}
}

// HandleData serves one inbound ingest message and acknowledges with the
// store-assigned id on success or an error description on failure.
func (e *Ingest) HandleData(ctx context.Context, caller Caller, msg *protocol.Message) {
	var payload map[string]any
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &payload); err != nil {
			e.ack(ctx, caller, protocol.ErrAck(protocol.TypeData, msg.ID, albon.ErrMsgInvalidFormat))
			return
		}
	}

	id, err := e.Submit(ctx, caller.ID(), caller.ClientType(), msg.Category, payload)
	if err != nil {
		e.ack(ctx, caller, protocol.ErrAck(protocol.TypeData, msg.ID, err.Error()))
		return
	}

	var ackPayload json.RawMessage
	if id != "" {
		ackPayload, _ = protocol.MarshalPayload(map[string]string{"id": id})
	}
	e.ack(ctx, caller, protocol.Ack(protocol.TypeData, msg.ID, ackPayload))
}

// Submit runs the full ingest path for one payload: validation, annotation,
// field encryption, store insert. source identifies the producer (a
// connection id, or a local producer name such as a serial bridge). Returns
// the store-assigned record id, or "" when no store is configured.
func (e *Ingest) Submit(ctx context.Context, source, clientType, category string, payload map[string]any) (string, error) {
	if e.cfg.Validate {
		if err := e.validate(category, payload); err != nil {
			return "", err
		}
	}

	if e.store == nil {
		e.log.Debug().Str("source", source).Str("category", category).Msg("no store configured, payload dropped after validation")
		return "", nil
	}

	record := make(albon.Record, len(payload)+4)
	for k, v := range payload {
		record[k] = v
	}
	record["connection_id"] = source
	record["client_type"] = clientType
	record["category"] = category
	record["received_at"] = time.Now().UTC()

	if err := e.encryptFields(record); err != nil {
		return "", err
	}

	id, err := e.store.Insert(ctx, e.cfg.Table, record)
	if err != nil {
		e.log.Error().Err(err).Str("source", source).Str("category", category).Msg("store insert failed")
		return "", fmt.Errorf("persist payload: %w", err)
	}

	return id, nil
}

// validate applies the category's required-field and non-empty checks. A
// failed check keeps the payload away from the persistence step.
func (e *Ingest) validate(category string, payload map[string]any) error {
	required, ok := e.cfg.RequiredFields[category]
	if !ok {
		required = e.cfg.RequiredFields[""]
	}

	var missing []string
	for _, field := range required {
		v, ok := payload[field]
		if !ok || isEmptyValue(v) {
			missing = append(missing, field)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing or empty fields: %s", albon.ErrValidationFailed, strings.Join(missing, ", "))
	}
	return nil
}

// encryptFields replaces each configured field with its cipher form before
// the record reaches the store.
func (e *Ingest) encryptFields(record albon.Record) error {
	if e.enc == nil || len(e.cfg.EncryptedFields) == 0 {
		return nil
	}

	for _, field := range e.cfg.EncryptedFields {
		v, ok := record[field]
		if !ok {
			continue
		}

		cipher, err := e.enc.Encrypt(stringify(v))
		if err != nil {
			return fmt.Errorf("encrypt field %q: %w", field, err)
		}
		record[field] = cipher
	}
	return nil
}

func (e *Ingest) ack(ctx context.Context, caller Caller, msg *protocol.Message) {
	if err := caller.Send(ctx, msg); err != nil {
		e.log.Debug().Err(err).Str("client_id", caller.ID()).Msg("failed to send ingest ack")
	}
}

func isEmptyValue(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
