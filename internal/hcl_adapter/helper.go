package hcl_adapter

import (
	"context"
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/specialistvlad/saucegrid/internal/config"
	"github.com/specialistvlad/saucegrid/internal/ctxlog"
	"github.com/specialistvlad/saucegrid/internal/kvparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// isExprDefined checks if an HCL expression was actually present in the source
// code. For an omitted optional attribute gohcl assigns a synthetic null
// expression whose source range is zero-width, so a nil check is not enough.
func isExprDefined(ctx context.Context, expr hcl.Expression, attrName string) bool {
	logger := ctxlog.FromContext(ctx)

	if expr == nil {
		return false
	}
	exprRange := expr.Range()
	isDefined := exprRange.End.Byte > exprRange.Start.Byte

	logger.Debug("Checking if HCL attribute was explicitly defined.",
		"attribute", attrName,
		"hcl_range", exprRange.String(),
		"is_defined", isDefined,
	)
	return isDefined
}

// translateSuite converts the HCL-specific suite schema into the agnostic model.
func (l *Loader) translateSuite(ctx context.Context, s *Suite) (*config.Entry, error) {
	ctx, logger := ctxlog.With(ctx, "suite", s.Name)
	logger.Debug("Translating HCL suite to internal config model.")

	cfg, err := overridesFromExpr(ctx, s.Config, "config")
	if err != nil {
		return nil, err
	}
	env, err := overridesFromExpr(ctx, s.Env, "env")
	if err != nil {
		return nil, err
	}
	return &config.Entry{
		Name:       s.Name,
		Browser:    s.Browser,
		ConfigFile: s.ConfigFile,
		Config:     cfg,
		Env:        env,
		Spec:       s.Spec,
	}, nil
}

// overridesFromExpr accepts either a "k=v,k=v" string or an object/map whose
// values convert to strings.
func overridesFromExpr(ctx context.Context, expr hcl.Expression, attr string) (config.Overrides, error) {
	if !isExprDefined(ctx, expr, attr) {
		return config.Overrides{}, nil
	}

	v, diags := expr.Value(nil)
	if diags.HasErrors() {
		return config.Overrides{}, fmt.Errorf("%s: %w", attr, diags)
	}
	if v.IsNull() {
		return config.Overrides{}, nil
	}
	if !v.IsWhollyKnown() {
		return config.Overrides{}, fmt.Errorf("%s: value must be known", attr)
	}

	ty := v.Type()
	switch {
	case ty == cty.String:
		return config.ParseOverrides(attr, v.AsString())
	case ty.IsObjectType() || ty.IsMapType():
		mv, err := convert.Convert(v, cty.Map(cty.String))
		if err != nil {
			return config.Overrides{}, fmt.Errorf("%s: every value must be a string, number or bool: %w", attr, err)
		}
		var m map[string]string
		if err := gocty.FromCtyValue(mv, &m); err != nil {
			return config.Overrides{}, fmt.Errorf("%s: %w", attr, err)
		}
		keys := make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		pairs := make([]kvparse.Pair, 0, len(keys))
		for _, k := range keys {
			if k == "" || m[k] == "" {
				return config.Overrides{}, &kvparse.SyntaxError{Arg: attr, Token: k + "=" + m[k]}
			}
			pairs = append(pairs, kvparse.Pair{Key: k, Value: m[k]})
		}
		return config.Overrides{Set: true, Pairs: pairs}, nil
	default:
		return config.Overrides{}, fmt.Errorf("%s must be a string or an object, got %s", attr, ty.FriendlyName())
	}
}
