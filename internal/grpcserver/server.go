// Package grpcserver implements the BrokerService gRPC server.
//
// It delegates all business logic to dispatch.Service and intake.Service and
// handles only the gRPC transport concerns: metadata extraction, error
// mapping, and conversion between the domain types and protobuf messages.
//
// Requests and responses are google.protobuf.Struct values carrying the same
// JSON shapes as the HTTP API, so the service needs no generated stubs.
package grpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"smider/broker-service/internal/dispatch"
	"smider/broker-service/internal/extract"
	"smider/broker-service/internal/intake"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "smider.broker.v1.BrokerService"

// BrokerServer is the server API for BrokerService.
type BrokerServer interface {
	Health(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SubmitTurn(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateJob(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ConfirmPayment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Redispatch(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelJob(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CompleteJob(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AcceptOffer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeclineOffer(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListCustomerJobs(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListContractorOffers(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes BrokerService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BrokerServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Health", BrokerServer.Health),
		unary("SubmitTurn", BrokerServer.SubmitTurn),
		unary("CreateJob", BrokerServer.CreateJob),
		unary("ConfirmPayment", BrokerServer.ConfirmPayment),
		unary("Redispatch", BrokerServer.Redispatch),
		unary("CancelJob", BrokerServer.CancelJob),
		unary("CompleteJob", BrokerServer.CompleteJob),
		unary("AcceptOffer", BrokerServer.AcceptOffer),
		unary("DeclineOffer", BrokerServer.DeclineOffer),
		unary("ListCustomerJobs", BrokerServer.ListCustomerJobs),
		unary("ListContractorOffers", BrokerServer.ListContractorOffers),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "smider/broker/v1/broker.proto",
}

type rpcFunc func(BrokerServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(name string, call rpcFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(BrokerServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + name}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(srv.(BrokerServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// Register mounts s on gs.
func Register(gs *grpc.Server, s *Server) {
	gs.RegisterService(&ServiceDesc, s)
}

// Server implements BrokerServer.
type Server struct {
	svc    *dispatch.Service
	intake *intake.Service
}

// NewServer constructs a gRPC Server backed by the given services.
func NewServer(svc *dispatch.Service, in *intake.Service) *Server {
	return &Server{svc: svc, intake: in}
}

// ─── RPC implementations ──────────────────────────────────────────────────────

// Health reports liveness; it needs no caller identity.
func (s *Server) Health(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{"status": "ok"})
}

// SubmitTurn runs one intake turn. Request: {messages:[{role,content}]}.
func (s *Server) SubmitTurn(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var turns []extract.Turn
	if err := decodeField(req, "messages", &turns); err != nil || len(turns) == 0 {
		return nil, status.Error(codes.InvalidArgument, "messages is required")
	}
	res, err := s.intake.SubmitTurn(ctx, turns)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(res)
}

// CreateJob creates a priced job. Request: {payload:{…}, category?}.
func (s *Server) CreateJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	userID, err := userIDFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	pv, ok := req.GetFields()["payload"]
	if !ok || pv.GetStructValue() == nil {
		return nil, status.Error(codes.InvalidArgument, "payload is required")
	}
	raw, err := protojson.Marshal(pv)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, "payload is not valid JSON")
	}
	p, dropped := extract.Decode(raw)
	if len(dropped) > 0 {
		return nil, toGRPCError(&dispatch.ValidationError{Msg: "malformed payload fields", Fields: dropped})
	}

	res, err := s.svc.CreateJob(ctx, userID, stringField(req, "category"), p)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(res)
}

// ConfirmPayment verifies the hold and dispatches offers. Request: {jobId}.
func (s *Server) ConfirmPayment(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.jobAction(ctx, req, func(ctx context.Context, userID, jobID string) (any, error) {
		return s.svc.ConfirmPayment(ctx, userID, jobID)
	})
}

// Redispatch offers a searching job to new contractors. Request: {jobId}.
func (s *Server) Redispatch(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.jobAction(ctx, req, func(ctx context.Context, userID, jobID string) (any, error) {
		return s.svc.Redispatch(ctx, userID, jobID)
	})
}

// CancelJob cancels a job. Request: {jobId}.
func (s *Server) CancelJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.jobAction(ctx, req, func(ctx context.Context, userID, jobID string) (any, error) {
		return s.svc.CancelJob(ctx, userID, jobID)
	})
}

// CompleteJob completes an assigned job. Request: {jobId}.
func (s *Server) CompleteJob(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.jobAction(ctx, req, func(ctx context.Context, userID, jobID string) (any, error) {
		return s.svc.CompleteJob(ctx, userID, jobID)
	})
}

// AcceptOffer accepts an offer for the calling contractor. Request: {offerId}.
func (s *Server) AcceptOffer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.offerAction(ctx, req, func(ctx context.Context, userID, offerID string) (any, error) {
		return s.svc.AcceptOffer(ctx, userID, offerID)
	})
}

// DeclineOffer declines an offer for the calling contractor. Request: {offerId}.
func (s *Server) DeclineOffer(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	return s.offerAction(ctx, req, func(ctx context.Context, userID, offerID string) (any, error) {
		return s.svc.DeclineOffer(ctx, userID, offerID)
	})
}

// ListCustomerJobs returns {items:[…]} for the calling customer.
func (s *Server) ListCustomerJobs(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, err := userIDFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	jobs, err := s.svc.ListCustomerJobs(ctx, userID)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(map[string]any{"items": jobs})
}

// ListContractorOffers returns {items:[…]} for the calling contractor.
func (s *Server) ListContractorOffers(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	userID, err := userIDFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	offers, err := s.svc.ListContractorOffers(ctx, userID)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(map[string]any{"items": offers})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

type actionFunc func(ctx context.Context, userID, id string) (any, error)

func (s *Server) jobAction(ctx context.Context, req *structpb.Struct, fn actionFunc) (*structpb.Struct, error) {
	return s.idAction(ctx, req, "jobId", fn)
}

func (s *Server) offerAction(ctx context.Context, req *structpb.Struct, fn actionFunc) (*structpb.Struct, error) {
	return s.idAction(ctx, req, "offerId", fn)
}

func (s *Server) idAction(ctx context.Context, req *structpb.Struct, field string, fn actionFunc) (*structpb.Struct, error) {
	userID, err := userIDFromCtx(ctx)
	if err != nil {
		return nil, err
	}
	id := stringField(req, field)
	if id == "" {
		return nil, status.Errorf(codes.InvalidArgument, "%s is required", field)
	}
	v, err := fn(ctx, userID, id)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return toStruct(v)
}

// userIDFromCtx extracts the x-user-id value forwarded by the Gateway
// via gRPC metadata.
func userIDFromCtx(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "missing metadata")
	}
	vals := md.Get("x-user-id")
	if len(vals) == 0 || vals[0] == "" {
		return "", status.Error(codes.Unauthenticated, "missing x-user-id metadata")
	}
	return vals[0], nil
}

// toGRPCError maps domain errors to gRPC status errors.
func toGRPCError(err error) error {
	var (
		ve *dispatch.ValidationError
		ue *intake.UnsupportedCategoryError
		pe *dispatch.PaymentError
	)
	switch {
	case errors.As(err, &ve):
		return status.Error(codes.InvalidArgument, ve.Error())
	case errors.As(err, &ue):
		return status.Error(codes.InvalidArgument, ue.Error())
	case errors.Is(err, dispatch.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, dispatch.ErrNotOwner):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.As(err, &pe):
		return paymentStatus(pe)
	case errors.Is(err, dispatch.ErrInvalidTransition):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, dispatch.ErrOfferUnavailable):
		return status.Error(codes.Aborted, err.Error())
	case errors.Is(err, intake.ErrExtractionFailed):
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, "internal server error")
}

// paymentStatus carries the job id as a Struct detail: the job exists in
// pending_payment and the caller needs it to retry or cancel.
func paymentStatus(pe *dispatch.PaymentError) error {
	st := status.New(codes.FailedPrecondition, pe.Error())
	if pe.JobID == "" {
		return st.Err()
	}
	detail, err := structpb.NewStruct(map[string]any{"jobId": pe.JobID})
	if err != nil {
		return st.Err()
	}
	if withJob, err := st.WithDetails(detail); err == nil {
		st = withJob
	}
	return st.Err()
}

// toStruct converts a JSON-serializable value to a Struct. Values that do not
// encode as a JSON object are wrapped as {items: v}.
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, fmt.Sprintf("encode response: %v", err))
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return toStruct(map[string]json.RawMessage{"items": b})
	}
	return out, nil
}

func stringField(req *structpb.Struct, name string) string {
	return req.GetFields()[name].GetStringValue()
}

// decodeField unmarshals one field of req into dst through its JSON form.
func decodeField(req *structpb.Struct, name string, dst any) error {
	v, ok := req.GetFields()[name]
	if !ok {
		return fmt.Errorf("missing field %q", name)
	}
	b, err := protojson.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dst)
}
