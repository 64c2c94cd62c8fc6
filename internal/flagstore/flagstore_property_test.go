package flagstore

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
)

// Property: calling MarkActive twice with the same arguments, or
// MarkInactive twice, leaves the store in the same final state as calling
// once.
func TestProperty_FlagTransitionIdempotence(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	spreadGen := gen.RegexMatch(`spread_[0-9]{1,8}`)
	metaKeyGen := gen.OneConstOf("side", "entry_zscore", "hedge_ratio", "primary_ticket", "secondary_ticket")
	repeatGen := gen.IntRange(1, 4)

	properties.Property("MarkActive is idempotent", prop.ForAll(
		func(spreadID, metaKey, metaVal string, repeats int) bool {
			dir := t.TempDir()
			store, err := NewFileStore(dir, zerolog.Nop(), nil)
			if err != nil {
				return false
			}

			meta := map[string]string{metaKey: metaVal}
			for i := 0; i < repeats; i++ {
				if err := store.MarkActive(spreadID, meta); err != nil {
					return false
				}
			}

			rec, ok := store.Record()
			if !ok || !rec.Active {
				return false
			}
			return rec.SpreadID == spreadID && rec.Metadata[metaKey] == metaVal
		},
		spreadGen,
		metaKeyGen,
		gen.AlphaString(),
		repeatGen,
	))

	properties.Property("MarkInactive is idempotent", prop.ForAll(
		func(spreadID, reason string, repeats int) bool {
			dir := t.TempDir()
			store, err := NewFileStore(dir, zerolog.Nop(), nil)
			if err != nil {
				return false
			}

			if err := store.MarkActive(spreadID, nil); err != nil {
				return false
			}
			for i := 0; i < repeats; i++ {
				if err := store.MarkInactive(reason); err != nil {
					return false
				}
			}

			rec, ok := store.Record()
			if !ok || rec.Active {
				return false
			}
			// The spread id survives deactivation for audit purposes.
			return rec.SpreadID == spreadID
		},
		spreadGen,
		gen.AlphaString(),
		repeatGen,
	))

	properties.TestingRun(t)
}
