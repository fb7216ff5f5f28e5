package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hashicorp/go-plugin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

const (
	PluginMapKey      = "controller"
	serviceName       = "attacher.controller.v1.Controller"
	jsonCodecName     = "json"
	methodGetMetadata = "/" + serviceName + "/GetMetadata"
	methodAttach      = "/" + serviceName + "/Attach"
	methodLoad        = "/" + serviceName + "/Load"
	methodDetach      = "/" + serviceName + "/Detach"
)

var HandshakeConfig = plugin.HandshakeConfig{
	ProtocolVersion:  1,
	MagicCookieKey:   "ATTACHER_CONTROLLER_PLUGIN",
	MagicCookieValue: "attacher",
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return jsonCodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type Empty struct{}

type Metadata struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
}

type AttachRequest struct {
	ProcessID string `json:"process_id"`
}

type AttachResponse struct {
	SessionID string `json:"session_id"`
}

// LoadRequest carries the optional argument as a value plus a presence flag
// so that an empty argument survives the JSON round trip.
type LoadRequest struct {
	SessionID   string `json:"session_id"`
	Path        string `json:"path"`
	Argument    string `json:"argument"`
	HasArgument bool   `json:"has_argument"`
	Native      bool   `json:"native"`
}

type DetachRequest struct {
	SessionID string `json:"session_id"`
}

type ControllerServer interface {
	GetMetadata(ctx context.Context, in *Empty) (*Metadata, error)
	Attach(ctx context.Context, in *AttachRequest) (*AttachResponse, error)
	Load(ctx context.Context, in *LoadRequest) (*Empty, error)
	Detach(ctx context.Context, in *DetachRequest) (*Empty, error)
}

type ControllerClient interface {
	GetMetadata(ctx context.Context) (*Metadata, error)
	Attach(ctx context.Context, in *AttachRequest) (*AttachResponse, error)
	Load(ctx context.Context, in *LoadRequest) error
	Detach(ctx context.Context, in *DetachRequest) error
}

type controllerClient struct {
	conn *grpc.ClientConn
}

func NewControllerClient(conn *grpc.ClientConn) ControllerClient {
	return &controllerClient{conn: conn}
}

func (c *controllerClient) GetMetadata(ctx context.Context) (*Metadata, error) {
	out := &Metadata{}
	if err := c.conn.Invoke(ctx, methodGetMetadata, &Empty{}, out, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *controllerClient) Attach(ctx context.Context, in *AttachRequest) (*AttachResponse, error) {
	out := &AttachResponse{}
	if err := c.conn.Invoke(ctx, methodAttach, in, out, grpc.CallContentSubtype(jsonCodecName)); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *controllerClient) Load(ctx context.Context, in *LoadRequest) error {
	return c.conn.Invoke(ctx, methodLoad, in, &Empty{}, grpc.CallContentSubtype(jsonCodecName))
}

func (c *controllerClient) Detach(ctx context.Context, in *DetachRequest) error {
	return c.conn.Invoke(ctx, methodDetach, in, &Empty{}, grpc.CallContentSubtype(jsonCodecName))
}

func unaryMethod[Req any](name, fullMethod string, call func(context.Context, *Req) (any, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req any) (any, error) {
				typed, ok := req.(*Req)
				if !ok {
					return nil, fmt.Errorf("invalid request type %T", req)
				}
				return call(ctx, typed)
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

func RegisterControllerServer(server grpc.ServiceRegistrar, impl ControllerServer) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*ControllerServer)(nil),
		Methods: []grpc.MethodDesc{
			unaryMethod("GetMetadata", methodGetMetadata, func(ctx context.Context, in *Empty) (any, error) {
				return impl.GetMetadata(ctx, in)
			}),
			unaryMethod("Attach", methodAttach, func(ctx context.Context, in *AttachRequest) (any, error) {
				return impl.Attach(ctx, in)
			}),
			unaryMethod("Load", methodLoad, func(ctx context.Context, in *LoadRequest) (any, error) {
				return impl.Load(ctx, in)
			}),
			unaryMethod("Detach", methodDetach, func(ctx context.Context, in *DetachRequest) (any, error) {
				return impl.Detach(ctx, in)
			}),
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "schemas/controller-rpc-v1.proto",
	}, impl)
}

type GRPCPlugin struct {
	plugin.NetRPCUnsupportedPlugin
	Impl ControllerServer
}

func (p *GRPCPlugin) GRPCServer(_ *plugin.GRPCBroker, server *grpc.Server) error {
	RegisterControllerServer(server, p.Impl)
	return nil
}

func (p *GRPCPlugin) GRPCClient(_ context.Context, _ *plugin.GRPCBroker, conn *grpc.ClientConn) (any, error) {
	return NewControllerClient(conn), nil
}

func PluginMap(impl ControllerServer) map[string]plugin.Plugin {
	return map[string]plugin.Plugin{
		PluginMapKey: &GRPCPlugin{Impl: impl},
	}
}
