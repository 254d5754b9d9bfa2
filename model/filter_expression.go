package model

import (
	"encoding/json"
)

/*
FilterExpression is a data model for the home feed's filter mode: a boolean
expression tree over per-post predicates, stored as JSON on the client's
feed preferences.
*/
type FilterExpressionWrap struct {
	ID   string         `json:"id"`
	Expr ExpressionNode `json:"expr"`
}

// A wrap with no expression set is a pure id expression: the frontend uses it
// to mark an insertion point in the expression editor, it has no semantic
// meaning when matching and is skipped.
func (w FilterExpressionWrap) IsEmpty() bool {
	return w.Expr == nil
}

// ExpressionNode is an abstract container, it takes/generates the "expr".
type ExpressionNode interface {
	isExpressionNode() bool
}

// AllOf is a type of ExpressionNode
type AllOf struct {
	ExpressionNode
	AllOf []FilterExpressionWrap `json:"allOf"`
}

// AnyOf is a type of ExpressionNode
type AnyOf struct {
	ExpressionNode
	AnyOf []FilterExpressionWrap `json:"anyOf"`
}

// NotTrue is a type of ExpressionNode
type NotTrue struct {
	ExpressionNode
	NotTrue FilterExpressionWrap `json:"notTrue"`
}

// PredicateWrap is a type of ExpressionNode
type PredicateWrap struct {
	ExpressionNode
	Predicate Predicate `json:"pred"`
}

// Bind AllOf/AnyOf/NotTrue/PredicateWrap to ExpressionNode by implementing
// the interface.
func (AllOf) isExpressionNode() bool         { return true }
func (AnyOf) isExpressionNode() bool         { return true }
func (NotTrue) isExpressionNode() bool       { return true }
func (PredicateWrap) isExpressionNode() bool { return true }

/*
Predicate is a leaf matcher.

Type is one of:

	"LITERAL": post body contains Param.Text, case insensitive
	"HASHTAG": post carries the hashtag Param.Text
	"MEDIA": post has an attachment whose kind is Param.Text
*/
type Predicate struct {
	Type  string  `json:"type"`
	Param Literal `json:"param"`
}

type Literal struct {
	Text string `json:"text"`
}

const (
	PredicateTypeLiteral = "LITERAL"
	PredicateTypeHashtag = "HASHTAG"
	PredicateTypeMedia   = "MEDIA"
)

// Custom unmarshal function for FilterExpressionWrap since it contains the
// interface ExpressionNode, which needs a "look-ahead" into the next level in
// order to decide what concrete type to unmarshal.
func (target *FilterExpressionWrap) UnmarshalJSON(b []byte) error {
	var objMap map[string]*json.RawMessage
	err := json.Unmarshal(b, &objMap)
	if err != nil {
		return err
	}

	if _, ok := objMap["expr"]; !ok {
		// noop on a pure id expression, see IsEmpty.
		return nil
	}

	if err = json.Unmarshal(*objMap["id"], &target.ID); err != nil {
		return err
	}

	// Look ahead into the next level keys, then use the key found there to
	// pick the concrete node type.
	var expr map[string]*json.RawMessage
	if err = json.Unmarshal(*objMap["expr"], &expr); err != nil {
		return err
	}

	if val, ok := expr["allOf"]; ok {
		var tmp []*json.RawMessage
		if err = json.Unmarshal(*val, &tmp); err != nil {
			return err
		}
		node := AllOf{AllOf: []FilterExpressionWrap{}}
		for _, t := range tmp {
			var tt FilterExpressionWrap
			if err = json.Unmarshal(*t, &tt); err != nil {
				return err
			}
			if !tt.IsEmpty() {
				node.AllOf = append(node.AllOf, tt)
			}
		}
		target.Expr = node
	} else if val, ok := expr["anyOf"]; ok {
		var tmp []*json.RawMessage
		if err = json.Unmarshal(*val, &tmp); err != nil {
			return err
		}
		node := AnyOf{AnyOf: []FilterExpressionWrap{}}
		for _, t := range tmp {
			var tt FilterExpressionWrap
			if err = json.Unmarshal(*t, &tt); err != nil {
				return err
			}
			if !tt.IsEmpty() {
				node.AnyOf = append(node.AnyOf, tt)
			}
		}
		target.Expr = node
	} else if val, ok := expr["notTrue"]; ok {
		var node NotTrue
		if err = json.Unmarshal(*val, &node.NotTrue); err != nil {
			return err
		}
		if !node.NotTrue.IsEmpty() {
			target.Expr = node
		}
	} else if val, ok := expr["pred"]; ok {
		var node PredicateWrap
		if err = json.Unmarshal(*val, &node.Predicate); err != nil {
			return err
		}
		target.Expr = node
	}
	return nil
}
