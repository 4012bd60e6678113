package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/glyph/internal/ir"
)

// marshalAttrs converts an attribute map to canonical JSON TEXT for storage.
// Uses RFC 8785 canonical JSON for deterministic serialization.
func marshalAttrs(attrs map[string]ir.Value) (string, error) {
	data, err := ir.EncodeAttrs(attrs)
	if err != nil {
		return "", fmt.Errorf("marshal attrs: %w", err)
	}
	return string(data), nil
}

// unmarshalAttrs converts canonical JSON TEXT back to an attribute map.
func unmarshalAttrs(data string) (map[string]ir.Value, error) {
	attrs, err := ir.DecodeAttrs([]byte(data))
	if err != nil {
		return nil, fmt.Errorf("unmarshal attrs: %w", err)
	}
	return attrs, nil
}

// marshalBatch renders a batch as canonical JSON. The encoding is the
// input to ir.BatchHash, so field names are part of the on-disk format.
func marshalBatch(b ir.Batch) ([]byte, error) {
	upserts := make([]any, len(b.Upserts))
	for i, rec := range b.Upserts {
		targets := rec.Targets
		if targets == nil {
			targets = []ir.GlyphID{}
		}
		attrs := rec.Attrs
		if attrs == nil {
			attrs = map[string]ir.Value{}
		}
		upserts[i] = map[string]any{
			"attrs":   attrs,
			"id":      rec.ID,
			"targets": targets,
			"type":    rec.Type,
		}
	}
	effects := make([]any, len(b.Effects))
	for i, e := range b.Effects {
		effects[i] = map[string]any{
			"attr":  e.Attr,
			"glyph": e.Glyph,
			"op":    e.Op.String(),
			"rule":  e.Rule,
		}
	}
	deletes := b.Deletes
	if deletes == nil {
		deletes = []ir.GlyphID{}
	}
	data, err := ir.MarshalCanonical(map[string]any{
		"deletes": deletes,
		"effects": effects,
		"seq":     b.Seq,
		"tx_id":   b.TxID,
		"upserts": upserts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal batch %d: %w", b.Seq, err)
	}
	return data, nil
}

type batchJSON struct {
	Seq     uint64       `json:"seq"`
	TxID    string       `json:"tx_id"`
	Upserts []recordJSON `json:"upserts"`
	Deletes []ir.GlyphID `json:"deletes"`
	Effects []effectJSON `json:"effects"`
}

type recordJSON struct {
	ID      ir.GlyphID      `json:"id"`
	Type    string          `json:"type"`
	Targets []ir.GlyphID    `json:"targets"`
	Attrs   json.RawMessage `json:"attrs"`
}

type effectJSON struct {
	Glyph ir.GlyphID `json:"glyph"`
	Op    string     `json:"op"`
	Attr  string     `json:"attr"`
	Rule  string     `json:"rule"`
}

// unmarshalBatch parses a batch written by marshalBatch.
func unmarshalBatch(data string) (ir.Batch, error) {
	var raw batchJSON
	if err := json.Unmarshal([]byte(data), &raw); err != nil {
		return ir.Batch{}, fmt.Errorf("unmarshal batch: %w", err)
	}
	b := ir.Batch{Seq: raw.Seq, TxID: raw.TxID, Deletes: raw.Deletes}
	for _, r := range raw.Upserts {
		attrs, err := ir.DecodeAttrs(r.Attrs)
		if err != nil {
			return ir.Batch{}, fmt.Errorf("unmarshal batch %d glyph %d: %w", raw.Seq, r.ID, err)
		}
		var targets []ir.GlyphID
		if len(r.Targets) > 0 {
			targets = r.Targets
		}
		b.Upserts = append(b.Upserts, ir.GlyphRecord{ID: r.ID, Type: r.Type, Targets: targets, Attrs: attrs})
	}
	for _, e := range raw.Effects {
		op, err := parseOp(e.Op)
		if err != nil {
			return ir.Batch{}, fmt.Errorf("unmarshal batch %d: %w", raw.Seq, err)
		}
		b.Effects = append(b.Effects, ir.Effect{Glyph: e.Glyph, Op: op, Attr: e.Attr, Rule: e.Rule})
	}
	return b, nil
}

func parseOp(s string) (ir.MutationOp, error) {
	switch s {
	case "create":
		return ir.OpCreate, nil
	case "delete":
		return ir.OpDelete, nil
	case "set":
		return ir.OpSet, nil
	default:
		return 0, fmt.Errorf("unknown mutation op %q", s)
	}
}
