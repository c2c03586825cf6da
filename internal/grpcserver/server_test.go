package grpcserver_test

import (
	"context"
	"errors"
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"smider/broker-service/internal/db"
	"smider/broker-service/internal/dispatch"
	"smider/broker-service/internal/extract"
	"smider/broker-service/internal/grpcserver"
	"smider/broker-service/internal/intake"
	"smider/broker-service/internal/matching"
	"smider/broker-service/internal/model"
	"smider/broker-service/internal/payment"
	"smider/broker-service/internal/pricing"
	"smider/broker-service/internal/store"
)

func setup(t *testing.T) (*grpc.ClientConn, store.Store) {
	t.Helper()
	return setupWith(t, payment.NewDemo())
}

func setupWith(t *testing.T, payments payment.Authorizer) (*grpc.ClientConn, store.Store) {
	t.Helper()
	ctx := context.Background()

	sqlDB, err := db.OpenSQLite(ctx, filepath.Join(t.TempDir(), "broker.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	st := store.NewSQLite(sqlDB)
	require.NoError(t, st.Migrate(ctx))

	engine := pricing.NewEngine(pricing.DefaultRateCard())
	ex := extract.ExtractorFunc(func(context.Context, []extract.Turn) ([]byte, error) {
		return []byte(`{"category":"rørlegger"}`), nil
	})
	in := intake.NewService(ex, intake.NewController(), engine)
	svc := dispatch.NewService(dispatch.Deps{
		Store:    st,
		Matcher:  matching.NewEngine(st),
		Intake:   in.Controller(),
		Pricing:  engine,
		Payments: payments,
	}, dispatch.Settings{})

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	grpcserver.Register(gs, grpcserver.NewServer(svc, in))
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn, st
}

func call(ctx context.Context, conn *grpc.ClientConn, method string, req map[string]any) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	err = conn.Invoke(ctx, "/"+grpcserver.ServiceName+"/"+method, in, out)
	return out, err
}

// decliningAuth refuses every hold.
type decliningAuth struct{ payment.Authorizer }

func (decliningAuth) Authorize(context.Context, int, string, string) (*payment.Hold, error) {
	return nil, errors.New("card declined")
}

func as(user string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "x-user-id", user)
}

// ── Health & auth ──────────────────────────────────────────────────────────

func TestHealth(t *testing.T) {
	conn, _ := setup(t)
	out, err := call(context.Background(), conn, "Health", nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.GetFields()["status"].GetStringValue())
}

func TestMissingUserIsUnauthenticated(t *testing.T) {
	conn, _ := setup(t)
	_, err := call(context.Background(), conn, "ListCustomerJobs", nil)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

// ── Intake ─────────────────────────────────────────────────────────────────

func TestSubmitTurn(t *testing.T) {
	conn, _ := setup(t)
	out, err := call(context.Background(), conn, "SubmitTurn", map[string]any{
		"messages": []any{map[string]any{"role": "user", "content": "det drypper fra vasken"}},
	})
	require.NoError(t, err)
	assert.False(t, out.GetFields()["done"].GetBoolValue())
	assert.Equal(t, "plumber", out.GetFields()["category"].GetStringValue())

	_, err = call(context.Background(), conn, "SubmitTurn", map[string]any{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

// ── Job flow ───────────────────────────────────────────────────────────────

func TestJobFlowAndErrorMapping(t *testing.T) {
	conn, st := setup(t)
	require.NoError(t, st.UpsertContractor(context.Background(), &model.Contractor{
		ID:          "ctr-1",
		CompanyName: "Lys AS",
		Categories:  []model.Category{model.CategoryElectrician},
		Location:    &model.Location{Lat: 59.92, Lng: 10.76},
	}))

	_, err := call(as("cust-1"), conn, "CreateJob", map[string]any{
		"payload": map[string]any{"category": "elektriker"},
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	created, err := call(as("cust-1"), conn, "CreateJob", map[string]any{
		"payload": map[string]any{
			"category":              "elektriker",
			"task_details":          "bytte stikkontakt",
			"socket_count":          2,
			"materials_by_customer": true,
			"has_product":           true,
		},
	})
	require.NoError(t, err)
	job := created.GetFields()["job"].GetStructValue()
	jobID := job.GetFields()["id"].GetStringValue()
	assert.Equal(t, float64(5775), job.GetFields()["priceMax"].GetNumberValue())

	_, err = call(as("cust-2"), conn, "ConfirmPayment", map[string]any{"jobId": jobID})
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	_, err = call(as("cust-1"), conn, "ConfirmPayment", map[string]any{"jobId": "nope"})
	assert.Equal(t, codes.NotFound, status.Code(err))
	_, err = call(as("cust-1"), conn, "ConfirmPayment", map[string]any{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	dispatched, err := call(as("cust-1"), conn, "ConfirmPayment", map[string]any{"jobId": jobID})
	require.NoError(t, err)
	offers := dispatched.GetFields()["offers"].GetListValue().GetValues()
	require.Len(t, offers, 1)
	offerID := offers[0].GetStructValue().GetFields()["id"].GetStringValue()

	listed, err := call(as("ctr-1"), conn, "ListContractorOffers", nil)
	require.NoError(t, err)
	assert.Len(t, listed.GetFields()["items"].GetListValue().GetValues(), 1)

	accepted, err := call(as("ctr-1"), conn, "AcceptOffer", map[string]any{"offerId": offerID})
	require.NoError(t, err)
	assert.Equal(t, "accepted", accepted.GetFields()["status"].GetStringValue())

	_, err = call(as("ctr-1"), conn, "AcceptOffer", map[string]any{"offerId": offerID})
	assert.Equal(t, codes.Aborted, status.Code(err))

	_, err = call(as("cust-1"), conn, "Redispatch", map[string]any{"jobId": jobID})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	jobs, err := call(as("cust-1"), conn, "ListCustomerJobs", nil)
	require.NoError(t, err)
	items := jobs.GetFields()["items"].GetListValue().GetValues()
	require.Len(t, items, 1)
	assert.Equal(t, "assigned", items[0].GetStructValue().GetFields()["status"].GetStringValue())

	done, err := call(as("cust-1"), conn, "CompleteJob", map[string]any{"jobId": jobID})
	require.NoError(t, err)
	assert.Equal(t, "completed", done.GetFields()["status"].GetStringValue())
}

func TestCreateJobPaymentFailureCarriesJobID(t *testing.T) {
	conn, st := setupWith(t, decliningAuth{payment.NewDemo()})

	_, err := call(as("cust-1"), conn, "CreateJob", map[string]any{
		"payload": map[string]any{
			"category":              "elektriker",
			"task_details":          "bytte stikkontakt",
			"socket_count":          2,
			"materials_by_customer": true,
			"has_product":           true,
		},
	})
	stat, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.FailedPrecondition, stat.Code())

	var jobID string
	for _, d := range stat.Details() {
		if detail, ok := d.(*structpb.Struct); ok {
			jobID = detail.GetFields()["jobId"].GetStringValue()
		}
	}
	require.NotEmpty(t, jobID, "status details should name the job")

	job, err := st.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobPendingPayment, job.Status)

	cancelled, err := call(as("cust-1"), conn, "CancelJob", map[string]any{"jobId": jobID})
	require.NoError(t, err)
	assert.Equal(t, "cancelled", cancelled.GetFields()["status"].GetStringValue())
}
