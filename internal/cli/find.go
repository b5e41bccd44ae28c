package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/strata/internal/ir"
	"github.com/roach88/strata/internal/query"
	"github.com/roach88/strata/internal/store"
)

// FindOptions holds flags for the find command.
type FindOptions struct {
	*RootOptions
	Database  string
	Where     []string
	Relations bool
}

// FindResult holds the records a find matched.
type FindResult struct {
	Version string      `json:"version"`
	Kind    ir.Kind     `json:"kind"`
	Where   string      `json:"where,omitempty"`
	Records []ir.Record `json:"records"`
}

// NewFindCommand creates the find command.
func NewFindCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &FindOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "find <version>",
		Short: "Find records in a stored version",
		Long: `Find the entities (or relations) of a stored version matching every
--where condition.

Conditions:
  field=value    equal
  field!=value   not equal
  field>value    greater (also >=, <, <=)
  field~regex    matches a regular expression
  field?         field present

Values are parsed as JSON when possible (42, true, "a b"), otherwise taken
as plain strings. Fields may be dotted paths into nested objects.

Examples:
  strata find v-3 --where type=user
  strata find v-3 --where type=repo --where 'stars>=100'
  strata find v-3 --relations --where type=OWNS --where from=u1`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFind(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to SQLite database (default from config)")
	cmd.Flags().StringArrayVar(&opts.Where, "where", nil, "condition records must satisfy (repeatable)")
	cmd.Flags().BoolVar(&opts.Relations, "relations", false, "search relations instead of entities")

	return cmd
}

func runFind(opts *FindOptions, version string, cmd *cobra.Command) error {
	ctx := context.Background()
	formatter := opts.formatter(cmd)

	pred, err := ParseWhere(opts.Where)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeBadWhere, "invalid --where", err)
	}

	st, err := openExistingStore(opts.database(opts.Database), store.WithLogger(opts.Logger(cmd.ErrOrStderr())))
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeNotFound, "failed to open database", err)
	}
	defer st.Close()

	result := FindResult{Version: version, Kind: ir.KindEntity}
	if pred != nil {
		result.Where = pred.String()
	}
	if opts.Relations {
		result.Kind = ir.KindRelation
		result.Records, err = st.FindRelations(ctx, version, pred)
	} else {
		result.Records, err = st.FindEntities(ctx, version, pred)
	}
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "find failed", err)
	}
	if result.Records == nil {
		result.Records = []ir.Record{}
	}

	if formatter.IsJSON() {
		return formatter.Success(result)
	}

	w := formatter.Writer
	for _, rec := range result.Records {
		data, err := ir.MarshalCanonical(rec)
		if err != nil {
			return formatter.Fail(ExitFailure, ErrCodeGeneric, "failed to encode record", err)
		}
		fmt.Fprintln(w, string(data))
	}
	fmt.Fprintf(w, "%d %s(s) in %s\n", len(result.Records), result.Kind, version)
	return nil
}

// whereOps lists comparison operators, longest first so "!=" wins over "=".
var whereOps = []string{"!=", ">=", "<=", "=", ">", "<", "~"}

// ParseWhere turns --where conditions into one predicate. No conditions
// yield nil, which matches every record.
func ParseWhere(exprs []string) (query.Predicate, error) {
	preds := make([]query.Predicate, 0, len(exprs))
	for _, expr := range exprs {
		p, err := parseCondition(expr)
		if err != nil {
			return nil, err
		}
		preds = append(preds, p)
	}

	switch len(preds) {
	case 0:
		return nil, nil
	case 1:
		return preds[0], nil
	default:
		return query.AllOf(preds...), nil
	}
}

func parseCondition(expr string) (query.Predicate, error) {
	pos := strings.IndexAny(expr, "=!<>~")
	if pos < 0 {
		field, ok := strings.CutSuffix(expr, "?")
		if !ok || field == "" {
			return nil, fmt.Errorf("condition %q has no operator", expr)
		}
		return query.FieldExists(field), nil
	}

	field := strings.TrimSpace(expr[:pos])
	if field == "" {
		return nil, fmt.Errorf("condition %q has no field", expr)
	}

	rest := expr[pos:]
	for _, op := range whereOps {
		raw, ok := strings.CutPrefix(rest, op)
		if !ok {
			continue
		}
		if op == "~" {
			p := query.FieldMatch(field, raw)
			if err := query.ValidatePredicate(p); err != nil {
				return nil, err
			}
			return p, nil
		}
		return compare(field, op, whereValue(raw)), nil
	}
	return nil, fmt.Errorf("condition %q has an unknown operator", expr)
}

func compare(field, op string, v any) query.Predicate {
	switch op {
	case "!=":
		return query.FieldNEQ(field, v)
	case ">=":
		return query.FieldGTE(field, v)
	case "<=":
		return query.FieldLTE(field, v)
	case ">":
		return query.FieldGT(field, v)
	case "<":
		return query.FieldLT(field, v)
	default:
		return query.FieldEQ(field, v)
	}
}

// whereValue decodes raw as JSON, falling back to the raw string.
func whereValue(raw string) any {
	if !json.Valid([]byte(raw)) {
		return raw
	}
	v, err := ir.DecodeJSON([]byte(raw))
	if err != nil {
		return raw
	}
	return v
}
