package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestField_Apply(t *testing.T) {
	require.Equal(t, "cur", Field[string]{}.Apply("cur"))
	require.Equal(t, "new", Set("new").Apply("cur"))
	require.Equal(t, "", Clear[string]().Apply("cur"))
	require.True(t, Field[int]{}.IsUnchanged())
	require.True(t, Set(0).IsSet())
	require.True(t, Clear[int]().IsClear())
}

func TestField_Or(t *testing.T) {
	require.Equal(t, 2, Field[int]{}.Or(Set(2)).Value())
	require.Equal(t, 1, Set(1).Or(Set(2)).Value())
	require.True(t, Clear[int]().Or(Set(2)).IsClear())
}

func TestConversationUpdate_ClearChallengeKeepsLastSent(t *testing.T) {
	conv := Conversation{
		State:           StateAwaitingChallenge,
		ChallengeType:   ChallengeEmailOTP,
		OTPHash:         "hash",
		OTPExpiresAt:    10,
		OTPAttemptsLeft: 2,
		OTPLastSentAt:   5,
		OTPEmail:        "a***@example.com",
	}
	var u ConversationUpdate
	u.ClearChallenge()
	u.State = Set(StateAwaitingMessage)

	out := u.ApplyTo(conv)
	require.Equal(t, StateAwaitingMessage, out.State)
	require.Empty(t, out.OTPHash)
	require.Zero(t, out.OTPExpiresAt)
	require.Zero(t, out.OTPAttemptsLeft)
	require.Empty(t, out.OTPEmail)
	require.Equal(t, int64(5), out.OTPLastSentAt)
}

func TestConversation_IsVerifiedFailsClosed(t *testing.T) {
	now := time.Unix(1000, 0)
	require.True(t, Conversation{VerificationLevel: VerificationStrong, VerifiedUntil: 1001}.IsVerified(now))
	require.False(t, Conversation{VerificationLevel: VerificationStrong, VerifiedUntil: 1000}.IsVerified(now))
	require.False(t, Conversation{VerificationLevel: VerificationStrong}.IsVerified(now))
	require.False(t, Conversation{VerificationLevel: VerificationNone, VerifiedUntil: 2000}.IsVerified(now))
}

func TestInboundEvent_DedupIDFallsBackToChannelID(t *testing.T) {
	require.Equal(t, "evt", InboundEvent{EventID: "evt", ChannelMessageID: "SM1"}.DedupID())
	require.Equal(t, "SM1", InboundEvent{ChannelMessageID: "SM1"}.DedupID())
}
