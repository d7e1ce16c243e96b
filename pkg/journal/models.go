package journal

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/skillgate/skillgate/pkg/contract"
	"github.com/skillgate/skillgate/pkg/engine"
)

// JSONField stores a value as a JSON text column.
type JSONField[T any] struct {
	Data T
}

// Scan implements sql.Scanner.
func (j *JSONField[T]) Scan(value any) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return errors.Errorf("cannot scan %T into JSONField", value)
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, &j.Data)
}

// Value implements driver.Valuer.
func (j JSONField[T]) Value() (driver.Value, error) {
	return json.Marshal(j.Data)
}

// MarshalJSON renders the wrapped value directly, keeping API and CLI output
// free of the wrapper struct.
func (j JSONField[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(j.Data)
}

// UnmarshalJSON fills the wrapped value directly.
func (j *JSONField[T]) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &j.Data)
}

// Record is one journaled invocation row.
type Record struct {
	ID           int64                           `db:"id" json:"-"`
	InvocationID string                          `db:"invocation_id" json:"invocation_id"`
	TaskText     string                          `db:"task_text" json:"task_text"`
	Definition   string                          `db:"definition" json:"definition,omitempty"`
	Kind         engine.Kind                     `db:"kind" json:"kind"`
	Status       engine.Status                   `db:"status" json:"status"`
	Attempts     int                             `db:"attempts" json:"attempts"`
	Reason       string                          `db:"reason" json:"reason,omitempty"`
	Violations   JSONField[[]contract.Violation] `db:"violations" json:"violations,omitempty"`
	ElapsedMS    int64                           `db:"elapsed_ms" json:"elapsed_ms"`
	CreatedAt    time.Time                       `db:"created_at" json:"created_at"`
}
