package agent

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	of "github.com/netrack/ofagent"
	"github.com/netrack/ofagent/bridgequeue"
	"github.com/netrack/ofagent/channel"
	"github.com/netrack/ofagent/datapath"
	"github.com/netrack/ofagent/metrics"
	"github.com/netrack/ofagent/ofp"
	"github.com/netrack/ofagent/ofperror"
)

func generateSelfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "ofagent-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)

	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})

	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	require.NoError(t, err)
	return cert
}

// fakeSwitch is a minimal in-memory datapath.Switch, enough to answer
// HELLO/FEATURES_REQUEST round trips over a real accepted connection.
type fakeSwitch struct {
	features ofp.SwitchFeatures
}

func (f *fakeSwitch) GetConfig(ctx context.Context) (*ofp.SwitchConfig, *ofperror.Error) {
	return &ofp.SwitchConfig{}, nil
}
func (f *fakeSwitch) SetConfig(ctx context.Context, cfg *ofp.SwitchConfig) *ofperror.Error {
	return nil
}
func (f *fakeSwitch) Features(ctx context.Context) (*ofp.SwitchFeatures, *ofperror.Error) {
	feats := f.features
	return &feats, nil
}
func (f *fakeSwitch) FlowAdd(ctx context.Context, mod *ofp.FlowMod) *ofperror.Error { return nil }
func (f *fakeSwitch) FlowModify(ctx context.Context, mod *ofp.FlowMod, strict bool) *ofperror.Error {
	return nil
}
func (f *fakeSwitch) FlowDelete(ctx context.Context, mod *ofp.FlowMod, strict bool) *ofperror.Error {
	return nil
}
func (f *fakeSwitch) GroupAdd(ctx context.Context, mod *ofp.GroupMod) *ofperror.Error    { return nil }
func (f *fakeSwitch) GroupModify(ctx context.Context, mod *ofp.GroupMod) *ofperror.Error { return nil }
func (f *fakeSwitch) GroupDelete(ctx context.Context, mod *ofp.GroupMod) *ofperror.Error { return nil }
func (f *fakeSwitch) MeterAdd(ctx context.Context, mod *ofp.MeterMod) *ofperror.Error    { return nil }
func (f *fakeSwitch) MeterModify(ctx context.Context, mod *ofp.MeterMod) *ofperror.Error { return nil }
func (f *fakeSwitch) MeterDelete(ctx context.Context, mod *ofp.MeterMod) *ofperror.Error { return nil }
func (f *fakeSwitch) PortModify(ctx context.Context, mod *ofp.PortMod) *ofperror.Error   { return nil }
func (f *fakeSwitch) PortDescribe(ctx context.Context) ([]ofp.Port, *ofperror.Error)     { return nil, nil }
func (f *fakeSwitch) TableModify(ctx context.Context, mod *ofp.TableMod) *ofperror.Error { return nil }
func (f *fakeSwitch) Description(ctx context.Context) (*ofp.Description, *ofperror.Error) {
	return &ofp.Description{}, nil
}
func (f *fakeSwitch) FlowStats(ctx context.Context, req *ofp.FlowStatsRequest) ([]ofp.FlowStats, *ofperror.Error) {
	return nil, nil
}
func (f *fakeSwitch) AggregateStats(ctx context.Context, req *ofp.AggregateStatsRequest) (*ofp.AggregateStats, *ofperror.Error) {
	return &ofp.AggregateStats{}, nil
}
func (f *fakeSwitch) TableStats(ctx context.Context) ([]ofp.TableStats, *ofperror.Error) {
	return nil, nil
}
func (f *fakeSwitch) TableFeatures(ctx context.Context) ([]ofp.TableFeatures, *ofperror.Error) {
	return nil, nil
}
func (f *fakeSwitch) PortStats(ctx context.Context, req *ofp.PortStatsRequest) ([]ofp.PortStats, *ofperror.Error) {
	return nil, nil
}
func (f *fakeSwitch) QueueStats(ctx context.Context, req *ofp.QueueStatsRequest) ([]ofp.QueueStats, *ofperror.Error) {
	return nil, nil
}
func (f *fakeSwitch) QueueConfig(ctx context.Context, req *ofp.QueueGetConfigRequest) (*ofp.QueueGetConfigReply, *ofperror.Error) {
	return &ofp.QueueGetConfigReply{Port: req.Port}, nil
}
func (f *fakeSwitch) GroupStats(ctx context.Context, req *ofp.GroupStatsRequest) ([]ofp.GroupStats, *ofperror.Error) {
	return nil, nil
}
func (f *fakeSwitch) GroupDesc(ctx context.Context) ([]ofp.GroupDescStats, *ofperror.Error) {
	return nil, nil
}
func (f *fakeSwitch) GroupFeatures(ctx context.Context) (*ofp.GroupFeatures, *ofperror.Error) {
	return &ofp.GroupFeatures{}, nil
}
func (f *fakeSwitch) MeterStats(ctx context.Context, req *ofp.MeterStatsRequest) ([]ofp.MeterStats, *ofperror.Error) {
	return nil, nil
}
func (f *fakeSwitch) MeterConfig(ctx context.Context, req *ofp.MeterConfigRequest) ([]ofp.MeterConfig, *ofperror.Error) {
	return nil, nil
}
func (f *fakeSwitch) MeterFeatures(ctx context.Context) (*ofp.MeterFeatures, *ofperror.Error) {
	return &ofp.MeterFeatures{}, nil
}
func (f *fakeSwitch) PacketOut(ctx context.Context, msg *ofp.PacketOut, payload []byte) *ofperror.Error {
	return nil
}
func (f *fakeSwitch) Barrier(ctx context.Context) *ofperror.Error { return nil }

var _ datapath.Switch = (*fakeSwitch)(nil)

func newTestAgent(t *testing.T) *Agent {
	t.Helper()

	a := New("br0", nil)
	sw := &fakeSwitch{features: ofp.SwitchFeatures{DatapathID: 1, NumTables: 4}}
	require.NoError(t, a.RegisterSwitch(1, sw, bridgequeue.Info{Name: "br0"}))
	require.NoError(t, a.Listen(1, channel.TCP, "127.0.0.1:0", nil))
	return a
}

func dial(t *testing.T, addr net.Addr) of.Conn {
	t.Helper()

	conn, err := net.DialTimeout(addr.Network(), addr.String(), time.Second)
	require.NoError(t, err)
	return of.NewConn(conn)
}

func TestAgentHandshakeAndFeatures(t *testing.T) {
	a := newTestAgent(t)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, a.Start(ctx))

	addrs := a.Addrs()
	require.Len(t, addrs, 1)

	conn := dial(t, addrs[0])

	hello, err := of.NewRequest(of.TypeHello, &ofp.Hello{})
	require.NoError(t, err)
	require.NoError(t, conn.Send(hello))
	require.NoError(t, conn.Flush())

	reply, err := conn.Receive()
	require.NoError(t, err)
	assert.Equal(t, of.TypeHello, reply.Header.Type)

	features, err := of.NewRequest(of.TypeFeaturesRequest, nil)
	require.NoError(t, err)
	require.NoError(t, conn.Send(features))
	require.NoError(t, conn.Flush())

	reply, err = conn.Receive()
	require.NoError(t, err)
	assert.Equal(t, of.TypeFeaturesReply, reply.Header.Type)

	var feats ofp.SwitchFeatures
	_, err = feats.ReadFrom(reply.Body)
	require.NoError(t, err)
	assert.EqualValues(t, 1, feats.DatapathID)

	cancel()
	require.NoError(t, a.Stop())
}

func TestAgentShutdownGraceful(t *testing.T) {
	a := newTestAgent(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, a.Start(ctx))
	a.Shutdown(true)
	require.NoError(t, a.Stop())
}

func TestListenRejectsTLSWithoutConfig(t *testing.T) {
	a := New("br0", nil)
	err := a.Listen(1, channel.TLS, "127.0.0.1:0", nil)
	assert.Error(t, err)
}

func TestListenAcceptsTLSWithConfig(t *testing.T) {
	a := New("br0", nil)
	cert := generateSelfSignedCert(t)
	cfg := &tls.Config{Certificates: []tls.Certificate{cert}}

	require.NoError(t, a.Listen(1, channel.TLS, "127.0.0.1:0", cfg))
	assert.Len(t, a.Addrs(), 1)
}

func TestRegisterSwitchAndUnregister(t *testing.T) {
	a := New("br0", nil)
	sw := &fakeSwitch{}

	require.NoError(t, a.RegisterSwitch(1, sw, bridgequeue.Info{Name: "br0"}))
	got, ok := a.Switch(1)
	assert.True(t, ok)
	assert.Same(t, sw, got.(*fakeSwitch))

	require.NoError(t, a.UnregisterSwitch(1))
	_, ok = a.Switch(1)
	assert.False(t, ok)
}

func TestSetMetricsWiresComponents(t *testing.T) {
	a := New("br0", nil)
	reg := metrics.New()
	a.SetMetrics(reg)

	require.NoError(t, a.RegisterSwitch(1, &fakeSwitch{}, bridgequeue.Info{Name: "br0"}))

	conn, peer := net.Pipe()
	defer conn.Close()
	defer peer.Close()

	c := channel.New(1, of.NewConn(conn), channel.TCP, 0)
	a.channels.Attach(1, c)

	families, err := reg.Gatherer().Gather()
	require.NoError(t, err)

	var found bool
	for _, f := range families {
		if f.GetName() == "ofagent_channels" {
			found = true
		}
	}
	assert.True(t, found)
}
