package negotiationhttp

import (
	"errors"
	"fmt"

	"negotiator/internal/ufun"

	"github.com/tidwall/gjson"
)

var errBadRequest = errors.New("bad request")

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errBadRequest, fmt.Sprintf(format, args...))
}

// validateDecisionBody 在绑定前检查请求体结构，缺字段或类型错误直接返回 400。
func validateDecisionBody(raw []byte, needIncoming bool) error {
	if len(raw) == 0 {
		return badRequest("empty body")
	}
	if !gjson.ValidBytes(raw) {
		return badRequest("invalid json")
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return badRequest("body must be a json object")
	}
	econ := root.Get("economics")
	if !econ.IsObject() {
		return badRequest("economics object required")
	}
	if role := econ.Get("role"); role.Type != gjson.String {
		return badRequest("economics.role must be seller or buyer")
	}
	bounds := root.Get("bounds")
	if !bounds.IsObject() {
		return badRequest("bounds object required")
	}
	for _, k := range []string{"min", "max"} {
		if bounds.Get(k).Type != gjson.Number {
			return badRequest("bounds.%s must be a number", k)
		}
	}
	if span := bounds.Get("max").Float() - bounds.Get("min").Float(); span > ufun.MaxPriceSpan {
		return badRequest("price range %.0f exceeds %d", span, ufun.MaxPriceSpan)
	}
	if tq := root.Get("target_quantity"); tq.Exists() && tq.Type != gjson.Null {
		if tq.Type != gjson.Number || tq.Float() < 0 {
			return badRequest("target_quantity must be a number >= 0")
		}
	}
	if t := root.Get("t"); t.Type != gjson.Number {
		return badRequest("t must be a number")
	}
	if ex := root.Get("exogenous"); ex.Exists() && !ex.IsObject() {
		return badRequest("exogenous must be an object")
	}
	for _, k := range []string{"accepted", "pending"} {
		list := root.Get(k)
		if !list.Exists() || list.Type == gjson.Null {
			continue
		}
		if !list.IsArray() {
			return badRequest("%s must be an array", k)
		}
		var err error
		idx := 0
		list.ForEach(func(_, v gjson.Result) bool {
			idx++
			err = validateOffer(fmt.Sprintf("%s#%d", k, idx), v)
			return err == nil
		})
		if err != nil {
			return err
		}
	}
	if last := root.Get("last_opponent_offer"); last.Exists() && last.Type != gjson.Null {
		if err := validateOffer("last_opponent_offer", last); err != nil {
			return err
		}
	}
	if needIncoming {
		in := root.Get("incoming")
		if !in.Exists() {
			return badRequest("incoming offer required")
		}
		if err := validateOffer("incoming", in); err != nil {
			return err
		}
	}
	return nil
}

func validateOffer(name string, v gjson.Result) error {
	if !v.IsObject() {
		return badRequest("%s must be an offer object", name)
	}
	for _, k := range []string{"quantity", "time", "unit_price"} {
		f := v.Get(k)
		if f.Type != gjson.Number {
			return badRequest("%s.%s must be a number", name, k)
		}
		if f.Float() < 0 {
			return badRequest("%s.%s must be >= 0", name, k)
		}
	}
	return nil
}
