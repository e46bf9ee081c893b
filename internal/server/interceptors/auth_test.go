package interceptors

import (
	"context"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"portfolio-cms/backend/internal/abuse"
	"portfolio-cms/backend/internal/audit"
	"portfolio-cms/backend/internal/audit/domain"
	"portfolio-cms/backend/internal/authctx"
	"portfolio-cms/backend/internal/security"
	sessiondomain "portfolio-cms/backend/internal/session/domain"
	"portfolio-cms/backend/internal/session/repository"
	"portfolio-cms/backend/internal/session/service"
)

const testUA = "grpc-go-test/1.0"

type recordingEvents struct {
	events []audit.Event
}

func (r *recordingEvents) LogEvent(_ context.Context, e audit.Event) { r.events = append(r.events, e) }

func newSessions(t *testing.T) (*service.Service, string) {
	t.Helper()
	svc := service.NewService(repository.NewMemoryStore(), security.NewTestTokenProvider(), nil, service.Options{})
	pair, err := svc.GenerateTokenPair(context.Background(),
		sessiondomain.Principal{ID: "user-1", Role: "admin"},
		security.DeviceInfo{UserAgent: testUA, IP: "10.1.2.3"})
	if err != nil {
		t.Fatalf("GenerateTokenPair: %v", err)
	}
	return svc, pair.AccessToken
}

func incoming(token string) context.Context {
	md := metadata.New(map[string]string{
		"user-agent": testUA,
		"x-real-ip":  "10.1.2.3",
	})
	if token != "" {
		md.Set("authorization", "Bearer "+token)
	}
	return metadata.NewIncomingContext(context.Background(), md)
}

func okHandler(ctx context.Context, req interface{}) (interface{}, error) {
	return "success", nil
}

func TestAuthUnary_PublicMethod(t *testing.T) {
	sessions, _ := newSessions(t)
	publicMethods := map[string]bool{"/test.Service/PublicMethod": true}
	interceptor := AuthUnary(sessions, publicMethods, nil, AuthOptions{})

	for _, token := range []string{"", "garbage"} {
		resp, err := interceptor(incoming(token), "request", &grpc.UnaryServerInfo{
			FullMethod: "/test.Service/PublicMethod",
		}, okHandler)
		if err != nil {
			t.Fatalf("interceptor(token=%q): %v", token, err)
		}
		if resp != "success" {
			t.Errorf("response = %v, want %q", resp, "success")
		}
	}
}

func TestAuthUnary_ProtectedMethod_NoToken(t *testing.T) {
	sessions, _ := newSessions(t)
	interceptor := AuthUnary(sessions, map[string]bool{}, nil, AuthOptions{})

	_, err := interceptor(context.Background(), "request", &grpc.UnaryServerInfo{
		FullMethod: "/test.Service/ProtectedMethod",
	}, okHandler)
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("status code = %v, want %v", status.Code(err), codes.Unauthenticated)
	}
}

func TestAuthUnary_ProtectedMethod_ValidToken(t *testing.T) {
	sessions, token := newSessions(t)
	interceptor := AuthUnary(sessions, map[string]bool{}, nil, AuthOptions{})

	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		p, ok := authctx.PrincipalFrom(ctx)
		if !ok {
			t.Fatal("principal missing from context")
		}
		if p.UserID != "user-1" || p.Role != "admin" || p.SessionID == "" {
			t.Errorf("principal = %+v", p)
		}
		return "success", nil
	}
	resp, err := interceptor(incoming(token), "request", &grpc.UnaryServerInfo{
		FullMethod: "/test.Service/ProtectedMethod",
	}, handler)
	if err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if resp != "success" {
		t.Errorf("response = %v, want %q", resp, "success")
	}
}

func TestAuthUnary_ProtectedMethod_InvalidToken(t *testing.T) {
	sessions, _ := newSessions(t)
	events := &recordingEvents{}
	interceptor := AuthUnary(sessions, map[string]bool{}, events, AuthOptions{})

	_, err := interceptor(incoming("invalid-token"), "request", &grpc.UnaryServerInfo{
		FullMethod: "/test.Service/ProtectedMethod",
	}, okHandler)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("status code = %v, want %v", status.Code(err), codes.Unauthenticated)
	}
	if len(events.events) != 1 || events.events[0].Type != domain.EventTokenInvalid {
		t.Fatalf("events = %+v, want one %s", events.events, domain.EventTokenInvalid)
	}
	if events.events[0].IP != "10.1.2.3" {
		t.Errorf("event ip = %q, want %q", events.events[0].IP, "10.1.2.3")
	}
}

func TestAuthUnary_RevokedSession(t *testing.T) {
	sessions, token := newSessions(t)
	claims := sessions.ExtractPayload(token)
	if !sessions.RevokeToken(context.Background(), token, claims.SessionID) {
		t.Fatal("RevokeToken failed")
	}
	interceptor := AuthUnary(sessions, map[string]bool{}, nil, AuthOptions{})

	_, err := interceptor(incoming(token), "request", &grpc.UnaryServerInfo{
		FullMethod: "/test.Service/ProtectedMethod",
	}, okHandler)
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("status code = %v, want %v", status.Code(err), codes.Unauthenticated)
	}
}

type denyIPs map[string]bool

func (d denyIPs) Check(_ context.Context, req abuse.Request) abuse.Decision {
	if d[req.IP] {
		return abuse.Decision{Reasons: []string{"ip_blacklisted"}}
	}
	return abuse.Decision{Allowed: true}
}

func incomingFrom(ip, token string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string{
		"user-agent":    testUA,
		"x-real-ip":     ip,
		"authorization": "Bearer " + token,
	}))
}

func TestAuthUnary_BlockedIPWithValidToken(t *testing.T) {
	sessions, token := newSessions(t)
	events := &recordingEvents{}
	interceptor := AuthUnary(sessions, map[string]bool{"/test.Service/PublicMethod": true}, events,
		AuthOptions{Checker: denyIPs{"10.1.2.3": true}})

	called := false
	_, err := interceptor(incoming(token), "request", &grpc.UnaryServerInfo{
		FullMethod: "/test.Service/ProtectedMethod",
	}, func(ctx context.Context, req interface{}) (interface{}, error) {
		called = true
		return "success", nil
	})
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("status code = %v, want %v", status.Code(err), codes.PermissionDenied)
	}
	if called {
		t.Error("handler ran for a blocked caller")
	}
	if len(events.events) != 1 || events.events[0].Type != domain.EventSuspiciousActivity {
		t.Fatalf("events = %+v, want one %s", events.events, domain.EventSuspiciousActivity)
	}

	if _, err := interceptor(incoming(""), "request", &grpc.UnaryServerInfo{
		FullMethod: "/test.Service/PublicMethod",
	}, okHandler); err != nil {
		t.Errorf("public method: %v", err)
	}
}

func TestAuthUnary_StrictIP(t *testing.T) {
	sessions, token := newSessions(t)
	events := &recordingEvents{}
	interceptor := AuthUnary(sessions, map[string]bool{}, events, AuthOptions{StrictIP: true})
	info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/ProtectedMethod"}

	if _, err := interceptor(incomingFrom("10.1.2.3", token), "request", info, okHandler); err != nil {
		t.Fatalf("same ip: %v", err)
	}

	_, err := interceptor(incomingFrom("10.9.9.9", token), "request", info, okHandler)
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("status code = %v, want %v", status.Code(err), codes.PermissionDenied)
	}
	if len(events.events) != 1 || events.events[0].Type != domain.EventSuspiciousActivity {
		t.Fatalf("events = %+v, want one %s", events.events, domain.EventSuspiciousActivity)
	}
	md := events.events[0].Metadata
	if md["tokenIp"] != "10.1.2.3" || md["requestIp"] != "10.9.9.9" {
		t.Errorf("metadata = %+v", md)
	}
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		name string
		md   map[string]string
		want string
	}{
		{"cloudflare first", map[string]string{"cf-connecting-ip": "1.1.1.1", "x-real-ip": "2.2.2.2"}, "1.1.1.1"},
		{"real ip", map[string]string{"x-real-ip": "2.2.2.2", "x-forwarded-for": "3.3.3.3"}, "2.2.2.2"},
		{"forwarded list", map[string]string{"x-forwarded-for": " 3.3.3.3 , 4.4.4.4"}, "3.3.3.3"},
		{"none", map[string]string{}, "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := metadata.NewIncomingContext(context.Background(), metadata.New(tc.md))
			if got := ClientIP(ctx); got != tc.want {
				t.Errorf("ClientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestExtractBearer(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":  "abc",
		"bearer  abc": "abc",
		"Basic abc":   "",
		"Bearer":      "",
		"":            "",
	}
	for header, want := range cases {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.New(map[string]string{"authorization": header}))
		if got := BearerToken(ctx); got != want {
			t.Errorf("BearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}
