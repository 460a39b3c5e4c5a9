package probe

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subarg/internal/tools"
)

type fakeRunner struct {
	name     string
	args     []string
	stdin    string
	listFile string
	output   []string
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args []string, stdin io.Reader) ([]string, error) {
	f.name = name
	f.args = args
	if stdin != nil {
		data, _ := io.ReadAll(stdin)
		f.stdin = string(data)
	}
	for i, a := range args {
		if a == "-l" && i+1 < len(args) {
			data, _ := os.ReadFile(args[i+1])
			f.listFile = string(data)
		}
	}
	return f.output, f.err
}

func TestParseDnsxLines(t *testing.T) {
	lines := []string{
		"api.example.com [A] [93.184.216.34]",
		"www.example.com [10.0.0.1]",
		"api.example.com [A] [93.184.216.35]",
		"\x1b[35mcdn.example.com\x1b[0m [\x1b[32m10.0.0.2\x1b[0m]",
		"bare.example.com",
		"[INF] banner line",
	}

	got := ParseDnsxLines(lines)

	assert.Equal(t, []Resolution{
		{Host: "api.example.com", Addresses: []string{"93.184.216.34", "93.184.216.35"}},
		{Host: "www.example.com", Addresses: []string{"10.0.0.1"}},
		{Host: "cdn.example.com", Addresses: []string{"10.0.0.2"}},
		{Host: "bare.example.com"},
	}, got)
	assert.Equal(t, []string{"api.example.com", "www.example.com", "cdn.example.com", "bare.example.com"}, Hosts(got))
}

func TestDnsxResolver_Resolve(t *testing.T) {
	runner := &fakeRunner{output: []string{"a.example.com [A] [1.2.3.4]"}}
	resolver := NewDnsxResolver(runner)

	got, err := resolver.Resolve(context.Background(), []string{"a.example.com", "b.example.com"})

	require.NoError(t, err)
	assert.Equal(t, tools.Dnsx, runner.name)
	assert.Equal(t, "a.example.com\nb.example.com\n", runner.listFile)
	assert.Equal(t, []string{"-silent", "-a", "-resp"}, runner.args[2:])
	assert.Equal(t, []Resolution{{Host: "a.example.com", Addresses: []string{"1.2.3.4"}}}, got)
}

func TestDnsxResolver_EmptyInput(t *testing.T) {
	runner := &fakeRunner{}
	got, err := NewDnsxResolver(runner).Resolve(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, runner.name)
}

func TestParseHttpxLines(t *testing.T) {
	lines := []string{
		"https://www.example.com [200] [Example Domain] [Nginx,PHP]",
		"http://api.example.com:8080 [403] [] [Cloudflare]",
		"https://bare.example.com",
		"https://notitle.example.com [301]",
	}

	got := ParseHttpxLines(lines)

	require.Len(t, got, 4)
	assert.Equal(t, LiveHost{
		URL:        "https://www.example.com",
		Host:       "www.example.com",
		StatusCode: 200,
		Title:      "Example Domain",
		Tech:       []string{"Nginx", "PHP"},
	}, got[0])
	assert.Equal(t, "api.example.com", got[1].Host)
	assert.Equal(t, 403, got[1].StatusCode)
	assert.Empty(t, got[1].Title)
	assert.Equal(t, []string{"Cloudflare"}, got[1].Tech)
	assert.Equal(t, LiveHost{URL: "https://bare.example.com", Host: "bare.example.com"}, got[2])
	assert.Equal(t, 301, got[3].StatusCode)
}

func TestHttpxCLI_Probe(t *testing.T) {
	runner := &fakeRunner{output: []string{"https://a.example.com [200] [A]"}}

	got, err := NewHttpxCLI(runner).Probe(context.Background(), []string{"a.example.com"})

	require.NoError(t, err)
	assert.Equal(t, tools.Httpx, runner.name)
	assert.Contains(t, runner.args, "-tech-detect")
	assert.Equal(t, "a.example.com\n", runner.listFile)
	assert.Equal(t, []string{"https://a.example.com"}, URLs(got))
}

func TestHttprobe_Probe(t *testing.T) {
	runner := &fakeRunner{output: []string{"http://a.example.com", "https://a.example.com"}}

	got, err := NewHttprobe(runner, 20, 3000).Probe(context.Background(), []string{"a.example.com", "b.example.com"})

	require.NoError(t, err)
	assert.Equal(t, []string{"-c", "20", "-t", "3000"}, runner.args)
	assert.Equal(t, "a.example.com\nb.example.com\n", runner.stdin)
	assert.Equal(t, []LiveHost{
		{URL: "http://a.example.com", Host: "a.example.com"},
		{URL: "https://a.example.com", Host: "a.example.com"},
	}, got)
}

func TestHttprobe_ErrorKeepsOutput(t *testing.T) {
	runner := &fakeRunner{output: []string{"http://a.example.com"}, err: errors.New("killed")}

	got, err := NewHttprobe(runner, 20, 3000).Probe(context.Background(), []string{"a.example.com"})

	assert.Error(t, err)
	assert.Len(t, got, 1)
}

// startDNSServer serves A records from records on a loopback UDP port
func startDNSServer(t *testing.T, records map[string][]string) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	handler := dns.HandlerFunc(func(w dns.ResponseWriter, req *dns.Msg) {
		resp := new(dns.Msg)
		resp.SetReply(req)

		name := req.Question[0].Name
		addrs, ok := records[name]
		if !ok {
			resp.SetRcode(req, dns.RcodeNameError)
		}
		for _, addr := range addrs {
			resp.Answer = append(resp.Answer, &dns.A{
				Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
				A:   net.ParseIP(addr),
			})
		}
		w.WriteMsg(resp)
	})

	server := &dns.Server{PacketConn: pc, Handler: handler}
	go server.ActivateAndServe()
	t.Cleanup(func() { server.Shutdown() })

	return pc.LocalAddr().String()
}

func TestDNSResolver_Resolve(t *testing.T) {
	addr := startDNSServer(t, map[string][]string{
		"www.example.com.":   {"10.0.0.1"},
		"api.example.com.":   {"10.0.0.2", "10.0.0.3"},
		"empty.example.com.": {},
	})

	resolver := NewDNSResolver(DNSResolverConfig{
		Servers:     []string{addr},
		Timeout:     2 * time.Second,
		Concurrency: 2,
	})

	got, err := resolver.Resolve(context.Background(), []string{
		"www.example.com",
		"missing.example.com",
		"api.example.com",
		"empty.example.com",
	})

	require.NoError(t, err)
	assert.Equal(t, []Resolution{
		{Host: "www.example.com", Addresses: []string{"10.0.0.1"}},
		{Host: "api.example.com", Addresses: []string{"10.0.0.2", "10.0.0.3"}},
	}, got)
}

func TestDNSResolver_NoServers(t *testing.T) {
	_, err := NewDNSResolver(DNSResolverConfig{}).Resolve(context.Background(), []string{"a.example.com"})
	assert.Error(t, err)
}

func TestHttpxClient_EmptyInput(t *testing.T) {
	client := NewHttpxClient(nil)

	live, err := client.Probe(context.Background(), []string{" ", ""})

	require.NoError(t, err)
	assert.Empty(t, live)
	assert.Equal(t, 25, client.config.Concurrency)
}

func TestHttpxClient_TotalTimeout(t *testing.T) {
	deadlineCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	shortCtx, cancelShort := context.WithTimeout(context.Background(), time.Second)
	defer cancelShort()

	tests := []struct {
		name     string
		config   HttpxConfig
		ctx      context.Context
		hosts    int
		min, max time.Duration
	}{
		{"configured", HttpxConfig{Timeout: 10 * time.Second, TotalTimeout: 2 * time.Minute}, context.Background(), 1000, 2 * time.Minute, 2 * time.Minute},
		{"caller deadline", HttpxConfig{Timeout: 10 * time.Second}, deadlineCtx, 1000, 50 * time.Second, 55 * time.Second},
		{"deadline too close", HttpxConfig{Timeout: 10 * time.Second}, shortCtx, 10, 30 * time.Second, 30 * time.Second},
		{"few hosts floor", HttpxConfig{Timeout: 10 * time.Second}, context.Background(), 2, 30 * time.Second, 30 * time.Second},
		{"scaled by hosts", HttpxConfig{Timeout: 10 * time.Second}, context.Background(), 100, 500 * time.Second, 500 * time.Second},
		{"ceiling", HttpxConfig{Timeout: 10 * time.Second}, context.Background(), 100000, 30 * time.Minute, 30 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := tt.config
			got := NewHttpxClient(&config).totalTimeout(tt.ctx, tt.hosts)
			assert.GreaterOrEqual(t, got, tt.min)
			assert.LessOrEqual(t, got, tt.max)
		})
	}
}

func TestMockClient(t *testing.T) {
	mock := NewMockClient("httpx", []string{"a.example.com"}, 0)

	live, err := mock.Probe(context.Background(), []string{"a.example.com", "b.example.com"})

	require.NoError(t, err)
	assert.Equal(t, []LiveHost{{URL: "https://a.example.com", Host: "a.example.com", StatusCode: 200}}, live)
	assert.Len(t, mock.Calls(), 1)

	var _ Prober = mock
	var _ Prober = NewHttpxClient(nil)
	var _ Resolver = NewDNSResolver(DNSResolverConfig{})
}

func TestMockClient_DelayHonoursContext(t *testing.T) {
	mock := NewMockClient("httpx", nil, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := mock.Probe(ctx, []string{"a.example.com"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
