package documents

import (
	"context"
	"fmt"
	"regexp"
	"slices"

	"docflow/internal/models"
	"docflow/internal/util"
)

func checkValue(m models.MetadataType, value string) error {
	if len(m.Options) > 0 && !slices.Contains(m.Options, value) {
		return util.NewValidationError(m.Name, "%q is not one of the allowed options", value)
	}
	if m.Pattern != "" {
		re, err := regexp.Compile(`^(?:` + m.Pattern + `)$`)
		if err != nil {
			return util.NewValidationError(m.Name, "bad pattern: %v", err)
		}
		if !re.MatchString(value) {
			return util.NewValidationError(m.Name, "%q does not match %s", value, m.Pattern)
		}
	}
	return nil
}

// resolveMetadata validates values against the metadata bound to typeID
// and fills defaults. Keys not bound to the type are rejected unless drop
// is set, in which case they are discarded.
func (s *Service) resolveMetadata(ctx context.Context, typeID string, values map[string]string, drop bool) (map[string]string, error) {
	bindings, err := s.store.TypeMetadata(ctx, typeID)
	if err != nil {
		return nil, fmt.Errorf("load type metadata: %w", err)
	}
	bound := make(map[string]models.MetadataType, len(bindings))
	required := make(map[string]bool, len(bindings))
	for _, b := range bindings {
		m, err := s.store.GetMetadataType(ctx, b.MetadataTypeID)
		if err != nil {
			return nil, fmt.Errorf("load metadata type %s: %w", b.MetadataTypeID, err)
		}
		bound[m.Name] = m
		required[m.Name] = b.Required
	}

	out := make(map[string]string, len(values))
	for k, v := range values {
		m, ok := bound[k]
		if !ok {
			if drop {
				continue
			}
			return nil, util.NewValidationError(k, "metadata is not available for this document type")
		}
		if v == "" {
			continue
		}
		if err := checkValue(m, v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	for name, m := range bound {
		if _, ok := out[name]; ok {
			continue
		}
		if m.Default != "" {
			out[name] = m.Default
			continue
		}
		if required[name] {
			return nil, util.NewValidationError(name, "required")
		}
	}
	return out, nil
}
