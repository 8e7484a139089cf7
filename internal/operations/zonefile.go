package operations

import (
	"context"
	"fmt"
	"strings"

	"orchestra/internal/config"
	"orchestra/internal/db"
	"orchestra/internal/errors"
	"orchestra/internal/logger"
)

// ApplyReport lists the zones an apply created and updated, by name
type ApplyReport struct {
	Created []string `json:"created"`
	Updated []string `json:"updated"`
}

// ApplyZoneFile creates or updates zones by name so applying the same file
// twice leaves the same zones. Every definition is validated before anything
// is written. Zones missing from the file are left alone.
func (zo *ZoneOperations) ApplyZoneFile(ctx context.Context, zf *config.ZoneFile) (*ApplyReport, error) {
	if zf == nil {
		return nil, errors.InvalidInput("zones", "no zone file")
	}

	inputs := make([]ZoneInput, 0, len(zf.Zones))
	seen := make(map[string]bool, len(zf.Zones))
	for i, def := range zf.Zones {
		input := zoneInputFromDefinition(def)
		if input.Name == "" {
			return nil, errors.InvalidInput(fmt.Sprintf("zones[%d].name", i), "cannot be empty")
		}
		if seen[input.Name] {
			return nil, errors.InvalidInput(fmt.Sprintf("zones[%d].name", i), fmt.Sprintf("zone %q is defined twice", input.Name))
		}
		seen[input.Name] = true
		if _, err := zo.normalizeTriggers(input.Triggers); err != nil {
			return nil, err
		}
		inputs = append(inputs, input)
	}

	report := &ApplyReport{Created: []string{}, Updated: []string{}}
	for _, input := range inputs {
		existing, err := zo.FindZoneByName(ctx, input.Name)
		switch {
		case errors.HasCode(err, errors.ErrNotFound):
			if _, err := zo.CreateZone(ctx, input); err != nil {
				return report, err
			}
			report.Created = append(report.Created, input.Name)
		case err != nil:
			return report, err
		default:
			triggers := input.Triggers
			if _, err := zo.UpdateZone(ctx, existing.ID, ZoneUpdate{
				Description: &input.Description,
				Triggers:    &triggers,
			}); err != nil {
				return report, err
			}
			report.Updated = append(report.Updated, input.Name)
		}
	}

	logger.WithFields(logger.Fields{
		"created": len(report.Created),
		"updated": len(report.Updated),
	}).Info("Applied zone file")
	return report, nil
}

func zoneInputFromDefinition(def config.ZoneDefinition) ZoneInput {
	triggers := make([]db.Trigger, 0, len(def.Triggers))
	for _, td := range def.Triggers {
		t := db.Trigger{
			ID:      td.ID,
			Event:   td.Event,
			Actions: make([]db.Action, 0, len(td.Actions)),
		}
		if td.Condition != nil {
			t.Condition = &db.Condition{
				Field:    td.Condition.Field,
				Operator: td.Condition.Operator,
				Value:    td.Condition.Value,
			}
		}
		for _, ad := range td.Actions {
			t.Actions = append(t.Actions, db.Action{Type: ad.Type, Parameters: ad.Parameters})
		}
		triggers = append(triggers, t)
	}
	return ZoneInput{
		Name:        strings.TrimSpace(def.Name),
		Description: def.Description,
		Triggers:    triggers,
	}
}
