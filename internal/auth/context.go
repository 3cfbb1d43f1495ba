package auth

import (
	"context"
	"errors"
)

type ctxKey int

const (
	ctxReviewerID ctxKey = iota
	ctxReviewerName
)

func WithReviewer(ctx context.Context, reviewerID, name string) context.Context {
	ctx = context.WithValue(ctx, ctxReviewerID, reviewerID)
	ctx = context.WithValue(ctx, ctxReviewerName, name)
	return ctx
}

func ReviewerID(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxReviewerID).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("reviewer_id not in context")
}

func ReviewerName(ctx context.Context) (string, error) {
	if s, ok := ctx.Value(ctxReviewerName).(string); ok && s != "" {
		return s, nil
	}
	return "", errors.New("reviewer name not in context")
}
