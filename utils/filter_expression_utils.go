package utils

import (
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
	"github.com/studyloop/feedengine/model"
	. "github.com/studyloop/feedengine/utils/log"
)

// FilterExpressionMatchPost evaluates a JSON encoded filter expression
// against a single post. An empty expression matches everything so a feed
// without a filter behaves as unfiltered.
func FilterExpressionMatchPost(jsonStr string, post *model.Post) (bool, error) {
	if len(jsonStr) == 0 {
		return true, nil
	}

	var wrap model.FilterExpressionWrap
	if err := json.Unmarshal([]byte(jsonStr), &wrap); err != nil {
		Log.Error("filter expression can't be unmarshaled, error :", err)
		return false, err
	}

	matched, err := FilterExpressionMatch(wrap, post)
	if err != nil {
		return false, errors.Wrap(err, "filter expression match failed")
	}
	return matched, nil
}

func FilterExpressionMatch(wrap model.FilterExpressionWrap, post *model.Post) (bool, error) {
	// Empty filter expression should match all posts.
	if wrap.IsEmpty() {
		return true, nil
	}
	switch expr := wrap.Expr.(type) {
	case model.AllOf:
		if len(expr.AllOf) == 0 {
			return true, nil
		}
		for _, child := range expr.AllOf {
			match, err := FilterExpressionMatch(child, post)
			if err != nil {
				return false, err
			}
			if !match {
				return false, nil
			}
		}
		return true, nil
	case model.AnyOf:
		if len(expr.AnyOf) == 0 {
			return true, nil
		}
		for _, child := range expr.AnyOf {
			match, err := FilterExpressionMatch(child, post)
			if err != nil {
				return false, err
			}
			if match {
				return true, nil
			}
		}
		return false, nil
	case model.NotTrue:
		match, err := FilterExpressionMatch(expr.NotTrue, post)
		if err != nil {
			return false, err
		}
		return !match, nil
	case model.PredicateWrap:
		return matchPredicate(expr.Predicate, post)
	default:
		return false, errors.New("unknown node type when matching filter expression")
	}
}

func matchPredicate(pred model.Predicate, post *model.Post) (bool, error) {
	switch pred.Type {
	case model.PredicateTypeLiteral:
		return strings.Contains(strings.ToLower(post.Body), strings.ToLower(pred.Param.Text)), nil
	case model.PredicateTypeHashtag:
		want := strings.ToLower(strings.TrimPrefix(pred.Param.Text, "#"))
		for _, h := range post.Hashtags {
			if strings.ToLower(h.Name) == want {
				return true, nil
			}
		}
		return false, nil
	case model.PredicateTypeMedia:
		var attachments []model.Attachment
		if len(post.Attachments) > 0 {
			if err := json.Unmarshal(post.Attachments, &attachments); err != nil {
				return false, errors.Wrap(err, "malformed attachments column")
			}
		}
		for _, a := range attachments {
			if a.Kind == pred.Param.Text {
				return true, nil
			}
		}
		return false, nil
	}
	return false, errors.New("unknown predicate type: " + pred.Type)
}
