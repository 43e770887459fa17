package service

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// CompetitionServiceName is the fully-qualified name of the service
const CompetitionServiceName = "quotes.v1.CompetitionService"

// Procedure paths, as they appear in the URL
const (
	SubmitEntryProcedure     = "/quotes.v1.CompetitionService/SubmitEntry"
	CastVoteProcedure        = "/quotes.v1.CompetitionService/CastVote"
	CloseWindowProcedure     = "/quotes.v1.CompetitionService/CloseWindow"
	GetActiveWindowProcedure = "/quotes.v1.CompetitionService/GetActiveWindow"
	ListEntriesProcedure     = "/quotes.v1.CompetitionService/ListEntries"
	GetLatestWinnerProcedure = "/quotes.v1.CompetitionService/GetLatestWinner"
	CreateWindowProcedure    = "/quotes.v1.CompetitionService/CreateWindow"
	ActivateWindowProcedure  = "/quotes.v1.CompetitionService/ActivateWindow"
	GetRewardsProcedure      = "/quotes.v1.CompetitionService/GetRewards"
)

// CompetitionServiceHandler is implemented by the server side of the service
type CompetitionServiceHandler interface {
	SubmitEntry(context.Context, *connect.Request[SubmitEntryRequest]) (*connect.Response[SubmitEntryResponse], error)
	CastVote(context.Context, *connect.Request[CastVoteRequest]) (*connect.Response[CastVoteResponse], error)
	CloseWindow(context.Context, *connect.Request[CloseWindowRequest]) (*connect.Response[CloseWindowResponse], error)
	GetActiveWindow(context.Context, *connect.Request[GetActiveWindowRequest]) (*connect.Response[GetActiveWindowResponse], error)
	ListEntries(context.Context, *connect.Request[ListEntriesRequest]) (*connect.Response[ListEntriesResponse], error)
	GetLatestWinner(context.Context, *connect.Request[GetLatestWinnerRequest]) (*connect.Response[GetLatestWinnerResponse], error)
	CreateWindow(context.Context, *connect.Request[CreateWindowRequest]) (*connect.Response[CreateWindowResponse], error)
	ActivateWindow(context.Context, *connect.Request[ActivateWindowRequest]) (*connect.Response[ActivateWindowResponse], error)
	GetRewards(context.Context, *connect.Request[GetRewardsRequest]) (*connect.Response[GetRewardsResponse], error)
}

// NewCompetitionServiceHandler builds an HTTP handler from the service
// implementation. It returns the path on which to mount the handler and the
// handler itself.
func NewCompetitionServiceHandler(svc CompetitionServiceHandler, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(jsonCodec{})}, opts...)
	readOpts := append(append([]connect.HandlerOption{}, opts...),
		connect.WithIdempotency(connect.IdempotencyNoSideEffects))

	submitEntryHandler := connect.NewUnaryHandler(SubmitEntryProcedure, svc.SubmitEntry, opts...)
	castVoteHandler := connect.NewUnaryHandler(CastVoteProcedure, svc.CastVote, opts...)
	closeWindowHandler := connect.NewUnaryHandler(CloseWindowProcedure, svc.CloseWindow, opts...)
	getActiveWindowHandler := connect.NewUnaryHandler(GetActiveWindowProcedure, svc.GetActiveWindow, readOpts...)
	listEntriesHandler := connect.NewUnaryHandler(ListEntriesProcedure, svc.ListEntries, readOpts...)
	getLatestWinnerHandler := connect.NewUnaryHandler(GetLatestWinnerProcedure, svc.GetLatestWinner, readOpts...)
	createWindowHandler := connect.NewUnaryHandler(CreateWindowProcedure, svc.CreateWindow, opts...)
	activateWindowHandler := connect.NewUnaryHandler(ActivateWindowProcedure, svc.ActivateWindow, opts...)
	getRewardsHandler := connect.NewUnaryHandler(GetRewardsProcedure, svc.GetRewards, readOpts...)

	return "/" + CompetitionServiceName + "/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case SubmitEntryProcedure:
			submitEntryHandler.ServeHTTP(w, r)
		case CastVoteProcedure:
			castVoteHandler.ServeHTTP(w, r)
		case CloseWindowProcedure:
			closeWindowHandler.ServeHTTP(w, r)
		case GetActiveWindowProcedure:
			getActiveWindowHandler.ServeHTTP(w, r)
		case ListEntriesProcedure:
			listEntriesHandler.ServeHTTP(w, r)
		case GetLatestWinnerProcedure:
			getLatestWinnerHandler.ServeHTTP(w, r)
		case CreateWindowProcedure:
			createWindowHandler.ServeHTTP(w, r)
		case ActivateWindowProcedure:
			activateWindowHandler.ServeHTTP(w, r)
		case GetRewardsProcedure:
			getRewardsHandler.ServeHTTP(w, r)
		default:
			http.NotFound(w, r)
		}
	})
}

// CompetitionServiceClient is a client for the service
type CompetitionServiceClient interface {
	SubmitEntry(context.Context, *connect.Request[SubmitEntryRequest]) (*connect.Response[SubmitEntryResponse], error)
	CastVote(context.Context, *connect.Request[CastVoteRequest]) (*connect.Response[CastVoteResponse], error)
	CloseWindow(context.Context, *connect.Request[CloseWindowRequest]) (*connect.Response[CloseWindowResponse], error)
	GetActiveWindow(context.Context, *connect.Request[GetActiveWindowRequest]) (*connect.Response[GetActiveWindowResponse], error)
	ListEntries(context.Context, *connect.Request[ListEntriesRequest]) (*connect.Response[ListEntriesResponse], error)
	GetLatestWinner(context.Context, *connect.Request[GetLatestWinnerRequest]) (*connect.Response[GetLatestWinnerResponse], error)
	CreateWindow(context.Context, *connect.Request[CreateWindowRequest]) (*connect.Response[CreateWindowResponse], error)
	ActivateWindow(context.Context, *connect.Request[ActivateWindowRequest]) (*connect.Response[ActivateWindowResponse], error)
	GetRewards(context.Context, *connect.Request[GetRewardsRequest]) (*connect.Response[GetRewardsResponse], error)
}

// NewCompetitionServiceClient constructs a client for the service at baseURL
// (for example, http://localhost:8080).
func NewCompetitionServiceClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) CompetitionServiceClient {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(jsonCodec{})}, opts...)

	return &competitionServiceClient{
		submitEntry:     connect.NewClient[SubmitEntryRequest, SubmitEntryResponse](httpClient, baseURL+SubmitEntryProcedure, opts...),
		castVote:        connect.NewClient[CastVoteRequest, CastVoteResponse](httpClient, baseURL+CastVoteProcedure, opts...),
		closeWindow:     connect.NewClient[CloseWindowRequest, CloseWindowResponse](httpClient, baseURL+CloseWindowProcedure, opts...),
		getActiveWindow: connect.NewClient[GetActiveWindowRequest, GetActiveWindowResponse](httpClient, baseURL+GetActiveWindowProcedure, opts...),
		listEntries:     connect.NewClient[ListEntriesRequest, ListEntriesResponse](httpClient, baseURL+ListEntriesProcedure, opts...),
		getLatestWinner: connect.NewClient[GetLatestWinnerRequest, GetLatestWinnerResponse](httpClient, baseURL+GetLatestWinnerProcedure, opts...),
		createWindow:    connect.NewClient[CreateWindowRequest, CreateWindowResponse](httpClient, baseURL+CreateWindowProcedure, opts...),
		activateWindow:  connect.NewClient[ActivateWindowRequest, ActivateWindowResponse](httpClient, baseURL+ActivateWindowProcedure, opts...),
		getRewards:      connect.NewClient[GetRewardsRequest, GetRewardsResponse](httpClient, baseURL+GetRewardsProcedure, opts...),
	}
}

type competitionServiceClient struct {
	submitEntry     *connect.Client[SubmitEntryRequest, SubmitEntryResponse]
	castVote        *connect.Client[CastVoteRequest, CastVoteResponse]
	closeWindow     *connect.Client[CloseWindowRequest, CloseWindowResponse]
	getActiveWindow *connect.Client[GetActiveWindowRequest, GetActiveWindowResponse]
	listEntries     *connect.Client[ListEntriesRequest, ListEntriesResponse]
	getLatestWinner *connect.Client[GetLatestWinnerRequest, GetLatestWinnerResponse]
	createWindow    *connect.Client[CreateWindowRequest, CreateWindowResponse]
	activateWindow  *connect.Client[ActivateWindowRequest, ActivateWindowResponse]
	getRewards      *connect.Client[GetRewardsRequest, GetRewardsResponse]
}

func (c *competitionServiceClient) SubmitEntry(ctx context.Context, req *connect.Request[SubmitEntryRequest]) (*connect.Response[SubmitEntryResponse], error) {
	return c.submitEntry.CallUnary(ctx, req)
}

func (c *competitionServiceClient) CastVote(ctx context.Context, req *connect.Request[CastVoteRequest]) (*connect.Response[CastVoteResponse], error) {
	return c.castVote.CallUnary(ctx, req)
}

func (c *competitionServiceClient) CloseWindow(ctx context.Context, req *connect.Request[CloseWindowRequest]) (*connect.Response[CloseWindowResponse], error) {
	return c.closeWindow.CallUnary(ctx, req)
}

func (c *competitionServiceClient) GetActiveWindow(ctx context.Context, req *connect.Request[GetActiveWindowRequest]) (*connect.Response[GetActiveWindowResponse], error) {
	return c.getActiveWindow.CallUnary(ctx, req)
}

func (c *competitionServiceClient) ListEntries(ctx context.Context, req *connect.Request[ListEntriesRequest]) (*connect.Response[ListEntriesResponse], error) {
	return c.listEntries.CallUnary(ctx, req)
}

func (c *competitionServiceClient) GetLatestWinner(ctx context.Context, req *connect.Request[GetLatestWinnerRequest]) (*connect.Response[GetLatestWinnerResponse], error) {
	return c.getLatestWinner.CallUnary(ctx, req)
}

func (c *competitionServiceClient) CreateWindow(ctx context.Context, req *connect.Request[CreateWindowRequest]) (*connect.Response[CreateWindowResponse], error) {
	return c.createWindow.CallUnary(ctx, req)
}

func (c *competitionServiceClient) ActivateWindow(ctx context.Context, req *connect.Request[ActivateWindowRequest]) (*connect.Response[ActivateWindowResponse], error) {
	return c.activateWindow.CallUnary(ctx, req)
}

func (c *competitionServiceClient) GetRewards(ctx context.Context, req *connect.Request[GetRewardsRequest]) (*connect.Response[GetRewardsResponse], error) {
	return c.getRewards.CallUnary(ctx, req)
}
