package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"sync"

	api "github.com/justinsb/kgraph/api/v1alpha1"
	"github.com/justinsb/kgraph/pkg/binding"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"k8s.io/klog/v2"
)

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	listen := ":9876"
	if s := os.Getenv("LISTEN"); s != "" {
		listen = s
	}
	flag.StringVar(&listen, "listen", listen, "address to serve gRPC on")

	klog.InitFlags(nil)
	flag.Parse()

	log := klog.FromContext(ctx)
	lis, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listening on %q: %w", listen, err)
	}
	var opts []grpc.ServerOption
	grpcServer := grpc.NewServer(opts...)

	graphServer := NewGraphServer(ctx)
	api.RegisterGraphServiceServer(grpcServer, graphServer)
	log.Info("Starting graphserver", "listen", listen)
	if err := grpcServer.Serve(lis); err != nil {
		return fmt.Errorf("serving GRPC: %w", err)
	}

	return nil
}

// GraphServer serves one binding, and so one session, to every client.
// Calls are serialized.
type GraphServer struct {
	api.UnimplementedGraphServiceServer

	mu      sync.Mutex
	binding *binding.Binding
}

func NewGraphServer(ctx context.Context) *GraphServer {
	return &GraphServer{binding: binding.New(ctx)}
}

func (s *GraphServer) Call(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	req, err := api.RequestFromStruct(in)
	if err != nil {
		return nil, grpcstatus.Errorf(codes.InvalidArgument, "decoding request: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	klog.FromContext(ctx).V(2).Info("call", "method", req.Method, "name", req.Name)

	response, err := s.dispatch(req)
	if err != nil {
		return nil, err
	}
	return response.ToStruct()
}

func (s *GraphServer) dispatch(req *api.Request) (*api.Response, error) {
	b := s.binding
	response := &api.Response{}

	switch req.Method {
	case api.MethodInstantiate:
		response.Result = b.InstantiateSessionVariables()
	case api.MethodLoadGraph:
		response.Result = b.LoadGraphFromFile(req.Path)
	case api.MethodPlaceholder:
		response.Name = b.Placeholder(req.Name, req.DType)
	case api.MethodConstant:
		response.Name = b.Constant(req.Values, req.Shape, req.Name, req.DType)
	case api.MethodAdd:
		response.Name = b.Add(req.Left, req.Right, req.Name)
	case api.MethodMatMul:
		response.Name = b.MatMul(req.Left, req.Right, req.Name)
	case api.MethodFeedInput:
		response.Result = b.FeedInput(req.Name, req.Values, req.DType)
	case api.MethodSetOutput:
		response.Result = b.SetOutput(req.Name)
	case api.MethodRun:
		response.Result = b.RunSession()
	case api.MethodReadOutput:
		if err := s.readOutput(response); err != nil {
			return nil, err
		}
		return response, nil
	case api.MethodDeleteSession:
		response.Result = b.DeleteSessionVariables()
	default:
		return nil, grpcstatus.Errorf(codes.Unimplemented, "unknown method %q", req.Method)
	}

	if st := b.Status(); !st.OK() {
		return nil, st.Err()
	}
	return response, nil
}

func (s *GraphServer) readOutput(response *api.Response) error {
	session := s.binding.Session()
	if session == nil {
		return grpcstatus.Errorf(codes.FailedPrecondition, "no session")
	}
	t, err := session.Output(0)
	if err != nil {
		return err
	}
	values, err := t.Values()
	if err != nil {
		return err
	}
	response.DType = t.DType().String()
	response.Values = values
	response.Shape = t.Shape()
	return nil
}
