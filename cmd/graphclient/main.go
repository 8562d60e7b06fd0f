package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	api "github.com/justinsb/kgraph/api/v1alpha1"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
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

	serverAddr := "127.0.0.1:9876"
	if s := os.Getenv("GRAPH_SERVER"); s != "" {
		serverAddr = s
	}
	flag.StringVar(&serverAddr, "server", serverAddr, "address of the graphserver")
	graphPath := ""
	flag.StringVar(&graphPath, "graph", graphPath, "graph definition to load on the server instead of building the example graph")

	klog.InitFlags(nil)
	flag.Parse()

	log := klog.FromContext(ctx)

	var opts []grpc.DialOption
	opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))

	conn, err := grpc.NewClient(serverAddr, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to server %q: %w", serverAddr, err)
	}
	defer conn.Close()
	client := api.NewGraphServiceClient(conn)

	log.Info("Starting graphclient", "server", serverAddr)

	// y = x + ones, fed with x = [2, 3, 4].
	requests := []*api.Request{
		{Method: api.MethodInstantiate},
	}
	if graphPath != "" {
		requests = append(requests, &api.Request{Method: api.MethodLoadGraph, Path: graphPath})
	} else {
		requests = append(requests,
			&api.Request{Method: api.MethodPlaceholder, Name: "x", DType: "int32"},
			&api.Request{Method: api.MethodConstant, Name: "ones", DType: "int32", Values: []float64{1, 1, 1}, Shape: []int64{1, 3}},
			&api.Request{Method: api.MethodAdd, Left: "x", Right: "ones", Name: "y"},
		)
	}
	requests = append(requests,
		&api.Request{Method: api.MethodFeedInput, Name: "x", DType: "int32", Values: []float64{2, 3, 4}},
		&api.Request{Method: api.MethodSetOutput, Name: "y"},
		&api.Request{Method: api.MethodRun},
		&api.Request{Method: api.MethodReadOutput},
		&api.Request{Method: api.MethodDeleteSession},
	)

	for _, request := range requests {
		response, err := call(ctx, client, request)
		if err != nil {
			return fmt.Errorf("failed to call %s: %w", request.Method, err)
		}
		log.Info("Response", "method", request.Method, "result", response.Result, "name", response.Name, "values", response.Values, "shape", response.Shape)
	}

	return nil
}

func call(ctx context.Context, client api.GraphServiceClient, request *api.Request) (*api.Response, error) {
	in, err := request.ToStruct()
	if err != nil {
		return nil, err
	}
	out, err := client.Call(ctx, in)
	if err != nil {
		return nil, err
	}
	return api.ResponseFromStruct(out)
}
