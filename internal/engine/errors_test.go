package engine

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/memberprop/internal/model"
	"github.com/roach88/memberprop/internal/policy"
)

func TestMembershipError_Format(t *testing.T) {
	err := &MembershipError{Code: ErrCodeMemberNotFound, Message: "member x not found", GroupID: "g1", MemberID: "x"}
	assert.Equal(t, "MEMBER_NOT_FOUND: member x not found (group=g1, member=x)", err.Error())

	bare := newError(ErrCodeInvalidBatchShape, "", "bad")
	assert.Equal(t, "INVALID_BATCH_SHAPE: bad", bare.Error())
}

func TestIsCode_SeesThroughWrapping(t *testing.T) {
	err := fmt.Errorf("context: %w", newError(ErrCodeGroupNotFound, "g1", "gone"))
	assert.True(t, IsCode(err, ErrCodeGroupNotFound))
	assert.False(t, IsCode(err, ErrCodeUserNotFound))
	assert.False(t, IsCode(errors.New("plain"), ErrCodeGroupNotFound))
}

func TestNewCycleError_NamesCandidates(t *testing.T) {
	err := NewCycleError(model.Group{ID: "g1", Name: "admins"}, []string{"ops", "sre"})
	assert.True(t, IsCycleError(err))
	assert.Contains(t, err.Error(), "ops, sre")
	assert.Equal(t, []string{"ops", "sre"}, err.Candidates)
}

func TestJoinErrors_KeepsEveryCycle(t *testing.T) {
	a := NewCycleError(model.Group{ID: "g1"}, []string{"g2"})
	b := NewCycleError(model.Group{ID: "g2"}, []string{"g1"})

	assert.Same(t, a, joinErrors([]error{a}))

	joined := joinErrors([]error{a, b})
	assert.True(t, errors.Is(joined, a))
	assert.True(t, errors.Is(joined, b))
	assert.True(t, IsCycleError(joined))
}

func TestPrivilegeError_MapsDenials(t *testing.T) {
	denied := &policy.DeniedError{Action: "add member u1", ActorID: "u9", Target: "g1", Reason: "not owner or manager"}

	err := privilegeError("g1", "u1", denied)
	require.True(t, IsCode(err, ErrCodePrivilegeDenied))
	var got *policy.DeniedError
	assert.True(t, errors.As(err, &got))

	other := errors.New("db down")
	assert.Same(t, other, privilegeError("g1", "u1", other))
}
