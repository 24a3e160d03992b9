package handler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/SinaHo/referral-gate-backend/internal/model"
	"github.com/SinaHo/referral-gate-backend/internal/service"
)

// ReferralHandler is the gRPC implementation of the ReferralGate service used
// by the messaging front-end.
type ReferralHandler struct {
	referrals   service.ReferralService
	allocations service.AllocationService
	logger      *zap.SugaredLogger
}

// NewReferralHandler constructs a new handler.
func NewReferralHandler(referrals service.ReferralService, allocations service.AllocationService, logger *zap.SugaredLogger) *ReferralHandler {
	return &ReferralHandler{referrals: referrals, allocations: allocations, logger: logger}
}

var _ ReferralGateServer = (*ReferralHandler)(nil)

// Register handles {user_id, first_name, username, referral_arg, timestamp}.
func (h *ReferralHandler) Register(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	userID, err := int64Field(in, "user_id")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	at, err := timeField(in, "timestamp")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	res, err := h.referrals.Register(ctx, service.RegisterRequest{
		TelegramID:  userID,
		FirstName:   stringField(in, "first_name"),
		Handle:      stringField(in, "username"),
		ReferralArg: stringField(in, "referral_arg"),
		At:          at,
	})
	if err != nil {
		return nil, h.toStatus("register", userID, err)
	}

	out := map[string]interface{}{
		"created":   res.Created,
		"threshold": h.referrals.Threshold(),
		"user":      userMap(res.User),
	}
	if res.Referral != nil {
		out["referral"] = map[string]interface{}{
			"referrer_id": strconv.FormatInt(res.Referral.ReferrerID, 10),
			"count":       res.Referral.Count,
			"has_access":  res.Referral.HasAccess,
			"unlocked":    res.Referral.Unlocked,
		}
	}
	return structpb.NewStruct(out)
}

// Claim handles {user_id, timestamp} and answers with an outcome plus, when
// allocated, the profile and its account credentials.
func (h *ReferralHandler) Claim(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	userID, err := int64Field(in, "user_id")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	at, err := timeField(in, "timestamp")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	res, err := h.allocations.Claim(ctx, userID, at)
	if err != nil {
		return nil, h.toStatus("claim", userID, err)
	}

	out := map[string]interface{}{"outcome": res.Outcome.String()}
	if res.Outcome == service.ClaimAllocated {
		out["profile"] = map[string]interface{}{
			"id":       res.Profile.ID.String(),
			"name":     res.Profile.Name,
			"password": res.Profile.Password,
		}
		out["account"] = map[string]interface{}{
			"id":               res.Account.ID.String(),
			"email":            res.Account.Email,
			"password":         res.Account.Password,
			"recovery_account": res.Account.RecoveryAccount,
		}
	}
	return structpb.NewStruct(out)
}

// Status handles {user_id}.
func (h *ReferralHandler) Status(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	userID, err := int64Field(in, "user_id")
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	u, err := h.referrals.Status(ctx, userID)
	if err != nil {
		return nil, h.toStatus("status", userID, err)
	}

	out := map[string]interface{}{
		"found":     u != nil,
		"threshold": h.referrals.Threshold(),
	}
	if u != nil {
		out["user"] = userMap(u)
	}
	return structpb.NewStruct(out)
}

func (h *ReferralHandler) toStatus(op string, userID int64, err error) error {
	if errors.Is(err, service.ErrInvalidUserID) {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	h.logger.Errorw("request failed", "op", op, "user_id", userID, "error", err)
	return status.Error(codes.Internal, "internal error")
}

// Identities are sent as decimal strings; structpb numbers are float64.
func userMap(u *model.User) map[string]interface{} {
	m := map[string]interface{}{
		"user_id":             strconv.FormatInt(u.TelegramID, 10),
		"first_name":          u.FirstName,
		"username":            u.Handle,
		"referral_code":       u.ReferralCode,
		"referral_count":      u.ReferralCount,
		"has_access":          u.HasAccess,
		"created_at":          u.CreatedAt.UTC().Format(time.RFC3339),
		"referred_by":         nil,
		"assigned_profile_id": nil,
	}
	if u.ReferredBy != nil {
		m["referred_by"] = strconv.FormatInt(*u.ReferredBy, 10)
	}
	if u.AssignedProfileID != nil {
		m["assigned_profile_id"] = u.AssignedProfileID.String()
	}
	return m
}

func stringField(in *structpb.Struct, key string) string {
	return in.GetFields()[key].GetStringValue()
}

// int64Field accepts either a number or a decimal string.
func int64Field(in *structpb.Struct, key string) (int64, error) {
	v, ok := in.GetFields()[key]
	if !ok {
		return 0, fmt.Errorf("%s is required", key)
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		f := k.NumberValue
		if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
			return 0, fmt.Errorf("%s must be an integer", key)
		}
		return int64(f), nil
	case *structpb.Value_StringValue:
		id, err := strconv.ParseInt(k.StringValue, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer", key)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("%s must be an integer", key)
	}
}

// timeField accepts RFC 3339 strings or unix seconds; absent means zero.
func timeField(in *structpb.Struct, key string) (time.Time, error) {
	v, ok := in.GetFields()[key]
	if !ok {
		return time.Time{}, nil
	}
	switch k := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		t, err := time.Parse(time.RFC3339, k.StringValue)
		if err != nil {
			return time.Time{}, fmt.Errorf("%s must be RFC 3339", key)
		}
		return t, nil
	case *structpb.Value_NumberValue:
		return time.Unix(int64(k.NumberValue), 0).UTC(), nil
	case *structpb.Value_NullValue:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("%s must be a timestamp", key)
	}
}
