package ocr

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

const sampleTSV = "level\tpage_num\tblock_num\tpar_num\tline_num\tword_num\tleft\ttop\twidth\theight\tconf\ttext\n" +
	"1\t1\t0\t0\t0\t0\t0\t0\t100\t50\t-1\t\n" +
	"5\t1\t1\t1\t1\t1\t10\t5\t20\t10\t90\tTOTAL\n" +
	"5\t1\t1\t1\t1\t2\t35\t6\t15\t9\t80\t12.50\n" +
	"5\t1\t1\t1\t2\t1\t10\t20\t30\t10\t70\tThanks\n" +
	"5\t1\t1\t1\t2\t2\t45\t20\t5\t10\t-1\t \n"

func TestParseTSV(t *testing.T) {
	regions := ParseTSV(sampleTSV)
	require.Len(t, regions, 2)

	assert.Equal(t, "TOTAL 12.50", regions[0].Text)
	assert.Equal(t, image.Rect(10, 5, 50, 15), regions[0].Quad.Bounds())
	assert.InDelta(t, 0.85, regions[0].Confidence, 1e-9)

	assert.Equal(t, "Thanks", regions[1].Text)
	assert.Equal(t, image.Rect(10, 20, 40, 30), regions[1].Quad.Bounds())
	assert.InDelta(t, 0.70, regions[1].Confidence, 1e-9)

	assert.Empty(t, ParseTSV(""))
	assert.Empty(t, ParseTSV("header only\n"))
}

type fakeRunner struct {
	name   string
	args   []string
	stdout string
	stderr string
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.name, f.args = name, args
	return []byte(f.stdout), []byte(f.stderr), f.err
}

func TestCLIDetector(t *testing.T) {
	r := &fakeRunner{stdout: sampleTSV}
	d := NewCLIDetector(CLIConfig{PSM: 6, TessdataDir: "/td"}, r, quiet())

	regions, err := d.Detect(context.Background(), image.NewGray(image.Rect(0, 0, 4, 4)))
	require.NoError(t, err)
	assert.Len(t, regions, 2)
	assert.Equal(t, "tesseract", r.name)
	assert.Equal(t, "stdout", r.args[1])
	assert.Equal(t, []string{"-l", "eng", "--psm", "6", "--tessdata-dir", "/td", "tsv"}, r.args[2:])
	assert.True(t, strings.HasSuffix(r.args[0], ".png"))
}

func TestCLIDetector_Errors(t *testing.T) {
	r := &fakeRunner{err: errors.New("exit status 1"), stderr: "Error opening data file"}
	d := NewCLIDetector(CLIConfig{}, r, quiet())
	_, err := d.Detect(context.Background(), image.NewGray(image.Rect(0, 0, 2, 2)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Error opening data file")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = d.Detect(ctx, image.NewGray(image.Rect(0, 0, 2, 2)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTranscript(t *testing.T) {
	assert.Equal(t, "", Transcript(nil))
	regions := []TextRegion{{Text: "Invoice"}, {Text: "No. 42"}, {Text: "Total"}}
	assert.Equal(t, "Invoice No. 42 Total", Transcript(regions))
}

func TestMeanConfidence(t *testing.T) {
	assert.Zero(t, MeanConfidence(nil))
	assert.InDelta(t, 0.6, MeanConfidence([]TextRegion{{Confidence: 0.4}, {Confidence: 0.8}, {}}), 1e-6)
	assert.Equal(t, float32(1), MeanConfidence([]TextRegion{{Confidence: 3}}))
}

func TestQuadBounds(t *testing.T) {
	q := Quad{{X: 9, Y: 1}, {X: 3, Y: 7}, {X: 1, Y: 4}, {X: 6, Y: 0}}
	assert.Equal(t, image.Rect(1, 0, 9, 7), q.Bounds())

	r := image.Rect(2, 3, 10, 8)
	assert.Equal(t, r, QuadFromRect(r).Bounds())
}

func TestLazy_InitOnceUnderConcurrency(t *testing.T) {
	var inits atomic.Int32
	l := Lazy("fake", func() (Detector, error) {
		inits.Add(1)
		time.Sleep(10 * time.Millisecond)
		return DetectorFunc(func(context.Context, image.Image) ([]TextRegion, error) {
			return []TextRegion{{Text: "ok"}}, nil
		}), nil
	}, quiet())

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			regions, err := l.Detect(context.Background(), image.NewGray(image.Rect(0, 0, 1, 1)))
			assert.NoError(t, err)
			assert.Len(t, regions, 1)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, inits.Load())
	require.NoError(t, l.Warm())
	assert.EqualValues(t, 1, inits.Load())
}

func TestLazy_InitErrorSticks(t *testing.T) {
	var inits int
	boom := errors.New("no tessdata")
	l := Lazy("fake", func() (Detector, error) {
		inits++
		return nil, boom
	}, quiet())

	assert.ErrorIs(t, l.Warm(), boom)
	_, err := l.Detect(context.Background(), image.NewGray(image.Rect(0, 0, 1, 1)))
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, inits)
}

func grayWith(v uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range g.Pix {
		g.Pix[i] = v
	}
	return g
}

func TestCachedDetector(t *testing.T) {
	var calls atomic.Int32
	inner := DetectorFunc(func(_ context.Context, img image.Image) ([]TextRegion, error) {
		calls.Add(1)
		return []TextRegion{{Text: "v"}}, nil
	})
	c := NewCachedDetector(inner, time.Minute, quiet())
	defer c.Close()

	first, err := c.Detect(context.Background(), grayWith(10))
	require.NoError(t, err)
	first[0].Text = "mutated"

	second, err := c.Detect(context.Background(), grayWith(10))
	require.NoError(t, err)
	assert.Equal(t, "v", second[0].Text, "callers get their own copy")

	_, err = c.Detect(context.Background(), grayWith(11))
	require.NoError(t, err)

	assert.EqualValues(t, 2, calls.Load())
	st := c.Stats()
	assert.EqualValues(t, 1, st.Hits)
	assert.EqualValues(t, 2, st.Misses)
}

func TestCachedDetector_ErrorsAreNotCached(t *testing.T) {
	var calls atomic.Int32
	inner := DetectorFunc(func(context.Context, image.Image) ([]TextRegion, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("transient")
		}
		return []TextRegion{{Text: "v"}}, nil
	})
	c := NewCachedDetector(inner, time.Minute, quiet())
	defer c.Close()

	_, err := c.Detect(context.Background(), grayWith(1))
	require.Error(t, err)
	regions, err := c.Detect(context.Background(), grayWith(1))
	require.NoError(t, err)
	assert.Len(t, regions, 1)
	assert.EqualValues(t, 2, calls.Load())
}

func TestCachedDetector_CollapsesConcurrentCalls(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	inner := DetectorFunc(func(context.Context, image.Image) ([]TextRegion, error) {
		calls.Add(1)
		<-release
		return []TextRegion{{Text: "v"}}, nil
	})
	c := NewCachedDetector(inner, time.Minute, quiet())
	defer c.Close()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Detect(context.Background(), grayWith(7))
			assert.NoError(t, err)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	assert.EqualValues(t, 1, calls.Load())
}

func TestCachedDetector_CallerDeadlineDoesNotFailOthers(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var innerErr atomic.Value
	var once sync.Once
	inner := DetectorFunc(func(ctx context.Context, _ image.Image) ([]TextRegion, error) {
		once.Do(func() { close(started) })
		<-release
		if err := ctx.Err(); err != nil {
			innerErr.Store(err)
			return nil, err
		}
		return []TextRegion{{Text: "v"}}, nil
	})
	c := NewCachedDetector(inner, time.Minute, quiet())
	defer c.Close()

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	errA := make(chan error, 1)
	go func() {
		_, err := c.Detect(short, grayWith(3))
		errA <- err
	}()
	<-started

	type result struct {
		regions []TextRegion
		err     error
	}
	resB := make(chan result, 1)
	go func() {
		regions, err := c.Detect(context.Background(), grayWith(3))
		resB <- result{regions, err}
	}()

	require.ErrorIs(t, <-errA, context.DeadlineExceeded)
	close(release)

	b := <-resB
	require.NoError(t, b.err)
	require.Len(t, b.regions, 1)
	assert.Equal(t, "v", b.regions[0].Text)
	assert.Nil(t, innerErr.Load(), "engine call outlives the caller that started it")
}
