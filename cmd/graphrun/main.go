// Copyright 2025 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/justinsb/kgraph/pkg/blobs"
	"github.com/justinsb/kgraph/pkg/graphdef"
	"github.com/justinsb/kgraph/pkg/session"
	"github.com/justinsb/kgraph/pkg/tensor"
	"k8s.io/klog/v2"
)

func main() {
	ctx := context.Background()
	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, out io.Writer) error {
	graphLocation := os.Getenv("GRAPH")
	flag.StringVar(&graphLocation, "graph", graphLocation, "path or URL to the graph definition; a bare name is fetched from the blobserver")

	blobserver := os.Getenv("BLOBSERVER")
	flag.StringVar(&blobserver, "blobserver", blobserver, "base url to the graph-store, used for bare graph names")

	var feeds feedFlags
	flag.Var(&feeds, "feed", "input as name=v1,v2,...; may be repeated")
	dtypeName := "float64"
	flag.StringVar(&dtypeName, "dtype", dtypeName, "element type of the inputs (int32 or float64)")
	outputs := ""
	flag.StringVar(&outputs, "outputs", outputs, "comma-separated names of the nodes to print")
	save := ""
	flag.StringVar(&save, "save", save, "location (file or gs://) to save the loaded graph to, in the format its extension selects")

	klog.InitFlags(nil)

	flag.Parse()

	log := klog.FromContext(ctx)

	if graphLocation == "" {
		return fmt.Errorf("must specify -graph")
	}
	dtype, err := tensor.ParseDType(dtypeName)
	if err != nil {
		return err
	}

	reader, info, err := readerFor(graphLocation, blobserver)
	if err != nil {
		return err
	}

	loader := &GraphLoader{
		reader:              reader,
		maxDownloadAttempts: 5,
		retryInterval:       5 * time.Second,
	}
	tmpDir, err := os.MkdirTemp("", "graphrun")
	if err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)
	localPath := filepath.Join(tmpDir, path.Base(info.Key))

	if err := loader.downloadToFile(ctx, info, localPath); err != nil {
		return fmt.Errorf("downloading graph: %w", err)
	}
	log.Info("graph downloaded", "path", localPath)

	s, err := session.New(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(); err != nil {
			log.Error(err, "closing session")
		}
	}()

	if err := s.LoadGraph(ctx, localPath); err != nil {
		return err
	}

	if save != "" {
		if err := saveGraph(ctx, s, save, tmpDir); err != nil {
			return err
		}
	}

	var inputs []session.Feed
	for _, feed := range feeds {
		t, err := s.Allocator().New(feed.values, []int64{1, int64(len(feed.values))}, dtype)
		if err != nil {
			return fmt.Errorf("building input %q: %w", feed.name, err)
		}
		inputs = append(inputs, session.Feed{Name: feed.name, Value: t})
	}
	if err := s.SetInputs(inputs); err != nil {
		return err
	}

	var outputNames []string
	if outputs != "" {
		outputNames = strings.Split(outputs, ",")
	}
	if err := s.SetOutputs(outputNames...); err != nil {
		return err
	}

	if err := s.Run(ctx); err != nil {
		return err
	}

	for i, name := range outputNames {
		t, err := s.Output(i)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: %v\n", name, t)
	}
	return nil
}

// readerFor picks the reader for location. Bare names go to the blobserver
// when one is configured.
func readerFor(location, blobserver string) (blobs.BlobReader, blobs.BlobInfo, error) {
	if blobserver != "" && !strings.Contains(location, "://") && !strings.ContainsAny(location, `/\`) {
		blobserverURL, err := url.Parse(blobserver)
		if err != nil {
			return nil, blobs.BlobInfo{}, fmt.Errorf("parsing blobserver url %q: %w", blobserver, err)
		}
		return &blobs.BlobServer{BlobserverURL: blobserverURL}, blobs.BlobInfo{Key: location}, nil
	}
	return blobs.ForURL(location)
}

func saveGraph(ctx context.Context, s *session.Context, location, tmpDir string) error {
	log := klog.FromContext(ctx)

	store, info, err := blobs.StoreForURL(location)
	if err != nil {
		return err
	}
	def, err := s.Graph().Export()
	if err != nil {
		return fmt.Errorf("exporting graph: %w", err)
	}
	data, err := graphdef.Encode(def, graphdef.FormatFor(location, nil))
	if err != nil {
		return fmt.Errorf("encoding graph: %w", err)
	}
	p := filepath.Join(tmpDir, "export-"+path.Base(info.Key))
	if err := os.WriteFile(p, data, 0644); err != nil {
		return fmt.Errorf("writing %q: %w", p, err)
	}
	if err := store.Upload(ctx, p, info); err != nil {
		return fmt.Errorf("saving graph to %q: %w", location, err)
	}
	log.Info("graph saved", "location", location)
	return nil
}

type GraphLoader struct {
	// reader is the interface to fetch blobs
	reader blobs.BlobReader

	// maxDownloadAttempts is the number of times to attempt a download before failing
	maxDownloadAttempts int

	retryInterval time.Duration
}

func (l *GraphLoader) downloadToFile(ctx context.Context, info blobs.BlobInfo, destPath string) error {
	log := klog.FromContext(ctx)

	attempt := 0
	for {
		attempt++

		err := l.reader.Download(ctx, info, destPath)
		if err == nil {
			return nil
		}

		if attempt >= l.maxDownloadAttempts {
			return err
		}

		log.Error(err, "downloading blob, will retry", "info", info, "attempt", attempt)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retryInterval):
		}
	}
}

type feedFlag struct {
	name   string
	values []float64
}

// feedFlags collects -feed name=v1,v2,... arguments.
type feedFlags []feedFlag

func (f *feedFlags) String() string {
	var parts []string
	for _, feed := range *f {
		parts = append(parts, fmt.Sprintf("%s=%v", feed.name, feed.values))
	}
	return strings.Join(parts, " ")
}

func (f *feedFlags) Set(s string) error {
	name, list, ok := strings.Cut(s, "=")
	if !ok || name == "" {
		return fmt.Errorf("feed %q must be name=v1,v2,...", s)
	}
	feed := feedFlag{name: name}
	for _, token := range strings.Split(list, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(token), 64)
		if err != nil {
			return fmt.Errorf("feed %q: parsing %q: %w", name, token, err)
		}
		feed.values = append(feed.values, v)
	}
	*f = append(*f, feed)
	return nil
}
