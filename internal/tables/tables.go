// Package tables defines the column layout, sort key and block attribution
// of each archived record kind.
package tables

import (
	"encoding/json"
	"fmt"

	"github.com/withObsrvr/substrate-archiver/internal/columnar"
	"github.com/withObsrvr/substrate-archiver/internal/model"
)

// Record kinds, also used as output directory names.
const (
	KindBlock     = "block"
	KindExtrinsic = "extrinsic"
	KindEvent     = "event"
	KindCall      = "call"
)

// Kinds lists every archived record kind.
var Kinds = []string{KindBlock, KindExtrinsic, KindEvent, KindCall}

// IDOrder selects how identifier-keyed kinds are sorted before a flush.
type IDOrder string

const (
	// IDOrderLexical compares identifiers as byte strings.
	IDOrderLexical IDOrder = "lexical"
	// IDOrderNumeric compares the block height prefix numerically first.
	IDOrderNumeric IDOrder = "numeric"
)

// ParseIDOrder validates an id order setting.
func ParseIDOrder(s string) (IDOrder, error) {
	switch IDOrder(s) {
	case "", IDOrderLexical:
		return IDOrderLexical, nil
	case IDOrderNumeric:
		return IDOrderNumeric, nil
	default:
		return "", fmt.Errorf("unknown id order %q (want lexical or numeric)", s)
	}
}

func (o IDOrder) key(column string) columnar.SortKey {
	if o == IDOrderNumeric {
		return columnar.NumericPrefixKey(column)
	}
	return columnar.ColumnKey(column)
}

// Table bundles what a pipeline needs to know about one record kind.
type Table[R any] struct {
	Kind        string
	Accumulator *columnar.Accumulator[R]

	// BlockNum returns the height of the block a record belongs to.
	BlockNum func(R) (int64, error)
}

func idBlockNum(id string) (int64, error) {
	return columnar.ExtractNumericPrefix(id)
}

// NewBlockTable returns the block header table, sorted by height.
func NewBlockTable(capacity int) (*Table[model.Block], error) {
	acc, err := columnar.NewAccumulator(KindBlock, columnar.ColumnKey("height"), capacity,
		columnar.StringField("id", func(b model.Block) string { return b.ID }),
		columnar.Int32Field("height", func(b model.Block) int32 { return b.Height }),
		columnar.StringField("hash", func(b model.Block) string { return b.Hash }),
		columnar.StringField("parent_hash", func(b model.Block) string { return b.ParentHash }),
		columnar.OptionalStringField("state_root", func(b model.Block) *string { return b.StateRoot }),
		columnar.OptionalStringField("extrinsics_root", func(b model.Block) *string { return b.ExtrinsicsRoot }),
		columnar.TimestampField("timestamp", func(b model.Block) int64 { return int64(b.Timestamp) }),
		columnar.OptionalStringField("spec_id", func(b model.Block) *string { return b.SpecID }),
		columnar.OptionalStringField("validator", func(b model.Block) *string { return b.Validator }),
	)
	if err != nil {
		return nil, err
	}
	return &Table[model.Block]{
		Kind:        KindBlock,
		Accumulator: acc,
		BlockNum:    func(b model.Block) (int64, error) { return int64(b.Height), nil },
	}, nil
}

// NewExtrinsicTable returns the extrinsic table, sorted by id.
func NewExtrinsicTable(capacity int, order IDOrder) (*Table[model.Extrinsic], error) {
	acc, err := columnar.NewAccumulator(KindExtrinsic, order.key("id"), capacity,
		columnar.StringField("id", func(e model.Extrinsic) string { return e.ID }),
		columnar.StringField("block_id", func(e model.Extrinsic) string { return e.BlockID }),
		columnar.Int32Field("index_in_block", func(e model.Extrinsic) int32 { return e.IndexInBlock }),
		columnar.JSONField("signature", func(e model.Extrinsic) json.RawMessage { return e.Signature }),
		columnar.BoolField("success", func(e model.Extrinsic) bool { return e.Success }),
		columnar.JSONField("error", func(e model.Extrinsic) json.RawMessage { return e.Error }),
		columnar.StringField("call_id", func(e model.Extrinsic) string { return e.CallID }),
		columnar.OptionalStringField("fee", func(e model.Extrinsic) *string { return quantity(e.Fee) }),
		columnar.OptionalStringField("tip", func(e model.Extrinsic) *string { return quantity(e.Tip) }),
		columnar.StringField("hash", func(e model.Extrinsic) string { return e.Hash }),
		columnar.Int32Field("pos", func(e model.Extrinsic) int32 { return e.Pos }),
	)
	if err != nil {
		return nil, err
	}
	return &Table[model.Extrinsic]{
		Kind:        KindExtrinsic,
		Accumulator: acc,
		BlockNum:    func(e model.Extrinsic) (int64, error) { return idBlockNum(e.ID) },
	}, nil
}

// NewEventTable returns the event table, sorted by id.
func NewEventTable(capacity int, order IDOrder) (*Table[model.Event], error) {
	acc, err := columnar.NewAccumulator(KindEvent, order.key("id"), capacity,
		columnar.StringField("id", func(e model.Event) string { return e.ID }),
		columnar.StringField("block_id", func(e model.Event) string { return e.BlockID }),
		columnar.Int32Field("index_in_block", func(e model.Event) int32 { return e.IndexInBlock }),
		columnar.StringField("phase", func(e model.Event) string { return e.Phase }),
		columnar.OptionalStringField("extrinsic_id", func(e model.Event) *string { return e.ExtrinsicID }),
		columnar.OptionalStringField("call_id", func(e model.Event) *string { return e.CallID }),
		columnar.StringField("name", func(e model.Event) string { return e.Name }),
		columnar.JSONField("args", func(e model.Event) json.RawMessage { return e.Args }),
		columnar.Int32Field("pos", func(e model.Event) int32 { return e.Pos }),
	)
	if err != nil {
		return nil, err
	}
	return &Table[model.Event]{
		Kind:        KindEvent,
		Accumulator: acc,
		BlockNum:    func(e model.Event) (int64, error) { return idBlockNum(e.ID) },
	}, nil
}

// NewCallTable returns the call table, sorted by id.
func NewCallTable(capacity int, order IDOrder) (*Table[model.Call], error) {
	acc, err := columnar.NewAccumulator(KindCall, order.key("id"), capacity,
		columnar.StringField("id", func(c model.Call) string { return c.ID }),
		columnar.OptionalStringField("parent_id", func(c model.Call) *string { return c.ParentID }),
		columnar.StringField("block_id", func(c model.Call) string { return c.BlockID }),
		columnar.StringField("extrinsic_id", func(c model.Call) string { return c.ExtrinsicID }),
		columnar.BoolField("success", func(c model.Call) bool { return c.Success }),
		columnar.JSONField("error", func(c model.Call) json.RawMessage { return c.Error }),
		columnar.JSONField("origin", func(c model.Call) json.RawMessage { return c.Origin }),
		columnar.StringField("name", func(c model.Call) string { return c.Name }),
		columnar.JSONField("args", func(c model.Call) json.RawMessage { return c.Args }),
		columnar.Int32Field("pos", func(c model.Call) int32 { return c.Pos }),
	)
	if err != nil {
		return nil, err
	}
	return &Table[model.Call]{
		Kind:        KindCall,
		Accumulator: acc,
		BlockNum:    func(c model.Call) (int64, error) { return idBlockNum(c.ID) },
	}, nil
}

func quantity(q *model.Quantity) *string {
	if q == nil {
		return nil
	}
	s := q.String()
	return &s
}
