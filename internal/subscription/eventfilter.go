package subscription

import (
	"reflect"

	"github.com/gopcua/opcua/ua"
)

// RaisedEvent is the source-side representation of an event occurrence
// before it passes through any item's select/where clauses: a flat set of
// attribute values keyed by BrowsePath (the server's event node
// population is an external collaborator, so the
// engine only ever sees this projection of it).
type RaisedEvent map[string]*ua.Variant

func browsePathKey(path []*ua.QualifiedName) string {
	key := ""
	for i, q := range path {
		if i > 0 {
			key += "/"
		}
		key += q.Name
	}
	return key
}

// EvaluateWhere applies an EventFilter's WhereClause to a raised event,
// reporting whether the event passes, before an item's queue sees
// anything. An empty or nil WhereClause always
// passes, matching the zero-elements ContentFilter the corpus's own
// createWhereClauses returns when a mapping has no SourceNames filter.
func EvaluateWhere(filter *ua.EventFilter, ev RaisedEvent) bool {
	if filter == nil || filter.WhereClause == nil || len(filter.WhereClause.Elements) == 0 {
		return true
	}
	result, ok := evalElement(filter.WhereClause, 0, ev)
	if !ok {
		return false
	}
	return result
}

// evalElement evaluates ContentFilter.Elements[index] against ev, resolving
// ElementOperand operands by recursing into the referenced sibling element.
// Returns ok=false if the element cannot be evaluated (missing field,
// unsupported operator), which EvaluateWhere treats as "does not pass".
// OPC UA Part 4 §7.4 directs servers to treat evaluation failure as false
// rather than propagate an error to the client.
func evalElement(cf *ua.ContentFilter, index int, ev RaisedEvent) (bool, bool) {
	if index < 0 || index >= len(cf.Elements) {
		return false, false
	}
	el := cf.Elements[index]

	switch el.FilterOperator {
	case ua.FilterOperatorAnd:
		a, ok := evalOperandBool(cf, el, 0, ev)
		if !ok || !a {
			return false, ok
		}
		b, ok := evalOperandBool(cf, el, 1, ev)
		return a && b, ok

	case ua.FilterOperatorOr:
		a, okA := evalOperandBool(cf, el, 0, ev)
		b, okB := evalOperandBool(cf, el, 1, ev)
		if !okA && !okB {
			return false, false
		}
		return a || b, true

	case ua.FilterOperatorNot:
		a, ok := evalOperandBool(cf, el, 0, ev)
		return !a, ok

	case ua.FilterOperatorEquals:
		return compareOperands(cf, el, ev, func(c int) bool { return c == 0 })

	case ua.FilterOperatorGreaterThan:
		return compareOperands(cf, el, ev, func(c int) bool { return c > 0 })

	case ua.FilterOperatorLessThan:
		return compareOperands(cf, el, ev, func(c int) bool { return c < 0 })

	case ua.FilterOperatorGreaterThanOrEqual:
		return compareOperands(cf, el, ev, func(c int) bool { return c >= 0 })

	case ua.FilterOperatorLessThanOrEqual:
		return compareOperands(cf, el, ev, func(c int) bool { return c <= 0 })

	case ua.FilterOperatorIsNull:
		v, ok := resolveOperand(cf, el, 0, ev)
		if !ok {
			return true, true
		}
		return v == nil, true

	case ua.FilterOperatorInList:
		target, ok := resolveOperand(cf, el, 0, ev)
		if !ok {
			return false, false
		}
		for i := 1; i < len(el.FilterOperands); i++ {
			candidate, ok := resolveOperand(cf, el, i, ev)
			if ok && reflect.DeepEqual(target, candidate) {
				return true, true
			}
		}
		return false, true

	default:
		return false, false
	}
}

func evalOperandBool(cf *ua.ContentFilter, el *ua.ContentFilterElement, operandIdx int, ev RaisedEvent) (bool, bool) {
	if operandIdx >= len(el.FilterOperands) {
		return false, false
	}
	obj := el.FilterOperands[operandIdx]
	if eo, ok := obj.Value.(*ua.ElementOperand); ok {
		return evalElement(cf, int(eo.Index), ev)
	}
	v, ok := resolveOperand(cf, el, operandIdx, ev)
	if !ok || v == nil {
		return false, ok
	}
	b, ok := v.(bool)
	return b, ok
}

// resolveOperand resolves operand index of el to a concrete Go value: a
// LiteralOperand yields its literal, a SimpleAttributeOperand is looked up
// in ev by its BrowsePath.
func resolveOperand(cf *ua.ContentFilter, el *ua.ContentFilterElement, index int, ev RaisedEvent) (interface{}, bool) {
	if index >= len(el.FilterOperands) {
		return nil, false
	}
	eo := el.FilterOperands[index]
	if eo == nil {
		return nil, false
	}
	switch v := eo.Value.(type) {
	case *ua.LiteralOperand:
		if v.Value == nil {
			return nil, true
		}
		return v.Value.Value(), true
	case ua.LiteralOperand:
		if v.Value == nil {
			return nil, true
		}
		return v.Value.Value(), true
	case *ua.SimpleAttributeOperand:
		variant, ok := ev[browsePathKey(v.BrowsePath)]
		if !ok || variant == nil {
			return nil, false
		}
		return variant.Value(), true
	default:
		return nil, false
	}
}

func compareOperands(cf *ua.ContentFilter, el *ua.ContentFilterElement, ev RaisedEvent, accept func(int) bool) (bool, bool) {
	a, okA := resolveOperand(cf, el, 0, ev)
	b, okB := resolveOperand(cf, el, 1, ev)
	if !okA || !okB {
		return false, false
	}
	c, ok := compareValues(a, b)
	if !ok {
		return false, false
	}
	return accept(c), true
}

// compareValues orders two scalar values. A float64 or int64 left operand
// is ordered against any right operand toFloat64 accepts, a string against
// a string; any other left operand only compares equal (reflect.DeepEqual)
// or not comparable.
func compareValues(a, b interface{}) (int, bool) {
	switch av := a.(type) {
	case float64:
		bv, ok := toFloat64(b)
		if !ok {
			return 0, false
		}
		return cmpFloat(av, bv), true
	case int64:
		bv, ok := toFloat64(b)
		if !ok {
			return 0, false
		}
		return cmpFloat(float64(av), bv), true
	case string:
		bv, ok := b.(string)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		default:
			return 0, true
		}
	default:
		if reflect.DeepEqual(a, b) {
			return 0, true
		}
		return 0, false
	}
}

func cmpFloat(a, b float64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

func toFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// ProjectSelectClauses builds the ordered field-value tuple a
// NotificationQueueEntry event variant carries, one Variant per select
// clause, in order. A select clause that cannot be resolved from ev yields
// a null Variant rather than shortening the tuple (OPC UA Part 4 §7.4.4.5).
func ProjectSelectClauses(filter *ua.EventFilter, ev RaisedEvent) []*ua.Variant {
	fields := make([]*ua.Variant, len(filter.SelectClauses))
	for i, clause := range filter.SelectClauses {
		v, ok := ev[browsePathKey(clause.BrowsePath)]
		if !ok || v == nil {
			fields[i] = nil
			continue
		}
		fields[i] = v
	}
	return fields
}
