package changeset

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Batch is the wire envelope for a run of changes from one site.
//
// Since and Until bound the run: every change lies after Since and none lies
// after Until. A receiver that has merged past Until can drop the batch.
type Batch struct {
	ID      uuid.UUID `json:"id"`
	SiteID  uuid.UUID `json:"site_id"`
	Since   Cursor    `json:"since"`
	Until   Cursor    `json:"until"`
	Changes []Change  `json:"changes"`
}

// NewBatch wraps changes pulled after since on site.
func NewBatch(site uuid.UUID, since Cursor, changes []Change) Batch {
	return Batch{
		ID:      uuid.New(),
		SiteID:  site,
		Since:   since,
		Until:   Last(since, changes),
		Changes: changes,
	}
}

// Encode serialises the batch as JSON.
func (b Batch) Encode() ([]byte, error) {
	data, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("encoding batch: %w", err)
	}
	return data, nil
}

// DecodeBatch parses and validates a batch received from the wire.
func DecodeBatch(data []byte) (Batch, error) {
	var b Batch
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		return Batch{}, fmt.Errorf("%w: %w", ErrInvalidBatch, err)
	}
	if err := b.Validate(); err != nil {
		return Batch{}, err
	}
	return b, nil
}

// Validate checks the envelope is internally consistent.
func (b Batch) Validate() error {
	if b.ID == uuid.Nil {
		return fmt.Errorf("%w: missing id", ErrInvalidBatch)
	}
	if b.SiteID == uuid.Nil {
		return fmt.Errorf("%w: missing site id", ErrInvalidBatch)
	}
	if b.Since.After(b.Until) {
		return fmt.Errorf("%w: since %s is after until %s", ErrInvalidBatch, b.Since, b.Until)
	}
	for i, ch := range b.Changes {
		if ch.Table == "" {
			return fmt.Errorf("%w: change %d has no table", ErrInvalidBatch, i)
		}
		if p := ch.Position(); !p.After(b.Since) || p.After(b.Until) {
			return fmt.Errorf("%w: change %d at %s outside (%s, %s]", ErrInvalidBatch, i, p, b.Since, b.Until)
		}
	}
	return nil
}
