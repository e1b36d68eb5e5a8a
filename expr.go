package tabdb

// expr.go generalizes the operator-keyed match language the original
// criteria AST used ($eq/$ne/$gt/$gte/$lt/$lte/$in as boolean predicates)
// into a value-producing expression language: every operator here
// evaluates its operand(s) and returns a Data value, so it composes inside
// a projection's "result" or an update's "set" the same way a literal
// field does.

func (qc *QueryContext) evalOperator(name string, operand Data, alias string, allowSubquery bool) Data {
	switch name {
	case "$not":
		v := qc.CalculateValue(operand, alias, allowSubquery)
		b, ok := v.(bool)
		if !ok {
			qc.errs.Add(newErr(RuntimeError, "$not operand must evaluate to a bool"))
			return nil
		}
		return !b
	case "$cel":
		return qc.evalCEL(operand)
	}

	arr, ok := qc.operandArray(operand, alias, allowSubquery, name)
	if !ok {
		return nil
	}
	switch name {
	case "$add":
		return qc.numFold(name, arr, func(acc, v float64) float64 { return acc + v })
	case "$mul":
		return qc.numFold(name, arr, func(acc, v float64) float64 { return acc * v })
	case "$sub":
		return qc.numBinary(name, arr, func(a, b float64) float64 { return a - b })
	case "$div":
		return qc.numBinary(name, arr, func(a, b float64) float64 { return a / b })
	case "$concat":
		return qc.strConcat(arr)
	case "$eq", "$ne", "$gt", "$gte", "$lt", "$lte":
		return qc.compareOp(name, arr)
	case "$and":
		return qc.boolFold(name, arr, true, func(acc, v bool) bool { return acc && v })
	case "$or":
		return qc.boolFold(name, arr, false, func(acc, v bool) bool { return acc || v })
	default:
		qc.errs.Add(newErr(RuntimeError, "unknown operator %q", name))
		return nil
	}
}

func (qc *QueryContext) operandArray(operand Data, alias string, allowSubquery bool, op string) ([]Data, bool) {
	raw, ok := toDataSlice(operand)
	if !ok {
		qc.errs.Add(newErr(RuntimeError, "%q operand must be an array", op))
		return nil, false
	}
	out := make([]Data, len(raw))
	for i, e := range raw {
		out[i] = qc.CalculateValue(e, alias, allowSubquery)
	}
	return out, true
}

func (qc *QueryContext) asFloat(op string, v Data) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		qc.errs.Add(newErr(RuntimeError, "%q operand must be numeric, got %T", op, v))
		return 0, false
	}
}

func (qc *QueryContext) numFold(op string, arr []Data, combine func(acc, v float64) float64) Data {
	if len(arr) == 0 {
		qc.errs.Add(newErr(RuntimeError, "%q requires at least one operand", op))
		return nil
	}
	acc, ok := qc.asFloat(op, arr[0])
	if !ok {
		return nil
	}
	for _, v := range arr[1:] {
		n, ok := qc.asFloat(op, v)
		if !ok {
			return nil
		}
		acc = combine(acc, n)
	}
	return acc
}

func (qc *QueryContext) numBinary(op string, arr []Data, combine func(a, b float64) float64) Data {
	if len(arr) != 2 {
		qc.errs.Add(newErr(RuntimeError, "%q requires exactly two operands", op))
		return nil
	}
	a, ok := qc.asFloat(op, arr[0])
	if !ok {
		return nil
	}
	b, ok := qc.asFloat(op, arr[1])
	if !ok {
		return nil
	}
	return combine(a, b)
}

func (qc *QueryContext) strConcat(arr []Data) Data {
	if len(arr) < 2 {
		qc.errs.Add(newErr(RuntimeError, "$concat requires at least two operands"))
		return nil
	}
	out := ""
	for _, v := range arr {
		s, ok := v.(string)
		if !ok {
			qc.errs.Add(newErr(RuntimeError, "$concat operand must be a string, got %T", v))
			return nil
		}
		out += s
	}
	return out
}

func (qc *QueryContext) compareOp(op string, arr []Data) Data {
	if len(arr) != 2 {
		qc.errs.Add(newErr(RuntimeError, "%q requires exactly two operands", op))
		return nil
	}
	ka, err := CreateKey(arr[0])
	if err != nil {
		qc.errs.Add(newErr(RuntimeError, "%q: %v", op, err))
		return nil
	}
	kb, err := CreateKey(arr[1])
	if err != nil {
		qc.errs.Add(newErr(RuntimeError, "%q: %v", op, err))
		return nil
	}
	c := Compare(ka, kb)
	switch op {
	case "$eq":
		return c == 0
	case "$ne":
		return c != 0
	case "$gt":
		return c > 0
	case "$gte":
		return c >= 0
	case "$lt":
		return c < 0
	case "$lte":
		return c <= 0
	default:
		return nil
	}
}

func (qc *QueryContext) boolFold(op string, arr []Data, identity bool, combine func(acc, v bool) bool) Data {
	if len(arr) == 0 {
		qc.errs.Add(newErr(RuntimeError, "%q requires at least one operand", op))
		return nil
	}
	acc := identity
	for i, v := range arr {
		b, ok := v.(bool)
		if !ok {
			qc.errs.Add(newErr(RuntimeError, "%q operand must be a bool, got %T", op, v))
			return nil
		}
		if i == 0 {
			acc = b
			continue
		}
		acc = combine(acc, b)
	}
	return acc
}
