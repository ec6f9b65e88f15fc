package origin

import (
	"context"
	"errors"
	"strings"
	"testing"

	"gourmet-log/internal/amap"
	"gourmet-log/internal/geomath"
	"gourmet-log/internal/iploc"
)

type fakeGeocoder struct {
	candidates map[string][]amap.Candidate
	err        error
	regeo      *amap.Regeo
	calls      []string
}

func (g *fakeGeocoder) Geocode(_ context.Context, address, _ string) ([]amap.Candidate, error) {
	g.calls = append(g.calls, address)
	if g.err != nil {
		return nil, g.err
	}
	return g.candidates[address], nil
}

func (g *fakeGeocoder) ReverseGeocode(_ context.Context, _, _ float64) (*amap.Regeo, error) {
	if g.regeo == nil {
		return nil, errors.New("no regeo")
	}
	return g.regeo, nil
}

type fakeIPLocator struct {
	res *iploc.Result
	err error
}

func (f *fakeIPLocator) Locate(context.Context) (*iploc.Result, error) {
	return f.res, f.err
}

func kaifeng() amap.Candidate {
	return amap.Candidate{FormattedAddress: "河南省开封市鼓楼区书店街", City: "开封市", Lat: 34.7972, Lng: 114.3074}
}

func accuracy(v float64) *float64 { return &v }

func TestMatchTextEmpty(t *testing.T) {
	r := NewResolver(&fakeGeocoder{}, &fakeIPLocator{err: iploc.ErrUnavailable})
	_, err := r.MatchText(context.Background(), "   ")
	if err == nil {
		t.Fatal("want error for empty text")
	}
}

func TestMatchTextSingleCandidate(t *testing.T) {
	g := &fakeGeocoder{candidates: map[string][]amap.Candidate{"开封书店街": {kaifeng()}}}
	r := NewResolver(g, &fakeIPLocator{err: iploc.ErrUnavailable})
	out, err := r.MatchText(context.Background(), "开封书店街")
	if err != nil {
		t.Fatal(err)
	}
	st := out.State
	if !st.Resolved() || st.Source != SourceManual {
		t.Fatalf("state = %+v, want resolved manual", st)
	}
	if st.Text != "河南省开封市鼓楼区书店街" {
		t.Fatalf("text = %q", st.Text)
	}
}

func TestMatchTextCoordinateLiteral(t *testing.T) {
	g := &fakeGeocoder{}
	r := NewResolver(g, &fakeIPLocator{err: iploc.ErrUnavailable})
	out, err := r.MatchText(context.Background(), "34.7972,114.3074")
	if err != nil {
		t.Fatal(err)
	}
	if !out.State.Resolved() || out.State.Location.Lat != 34.7972 {
		t.Fatalf("state = %+v", out.State)
	}
	if len(g.calls) != 0 {
		t.Fatalf("coordinate literal must not hit geocoder, calls = %v", g.calls)
	}
}

func TestMatchTextZeroCandidatesClearsOrigin(t *testing.T) {
	g := &fakeGeocoder{candidates: map[string][]amap.Candidate{"开封书店街": {kaifeng()}}}
	r := NewResolver(g, &fakeIPLocator{err: iploc.ErrUnavailable})
	if _, err := r.MatchText(context.Background(), "开封书店街"); err != nil {
		t.Fatal(err)
	}
	_, err := r.MatchText(context.Background(), "不存在的地方xx")
	if err == nil || !strings.Contains(err.Error(), "未找到") {
		t.Fatalf("err = %v", err)
	}
	if st := r.Snapshot(); st.Resolved() || st.Source != SourceNone {
		t.Fatalf("origin not cleared: %+v", st)
	}
}

func TestMatchTextGeocoderErrorKeepsState(t *testing.T) {
	g := &fakeGeocoder{candidates: map[string][]amap.Candidate{"开封书店街": {kaifeng()}}}
	r := NewResolver(g, &fakeIPLocator{err: iploc.ErrUnavailable})
	if _, err := r.MatchText(context.Background(), "开封书店街"); err != nil {
		t.Fatal(err)
	}
	g.err = errors.New("boom")
	if _, err := r.MatchText(context.Background(), "另一个地方"); err == nil {
		t.Fatal("want error")
	}
	if st := r.Snapshot(); !st.Resolved() || st.Source != SourceManual {
		t.Fatalf("failure must keep previous state, got %+v", st)
	}
}

func TestDisambiguationFlow(t *testing.T) {
	two := []amap.Candidate{
		{FormattedAddress: "河南省开封市鼓楼区书店街", City: "开封市", Lat: 34.79, Lng: 114.30},
		{FormattedAddress: "北京市西城区书店街", City: "北京市", Lat: 39.90, Lng: 116.40},
	}
	g := &fakeGeocoder{candidates: map[string][]amap.Candidate{"书店街": two}}
	r := NewResolver(g, &fakeIPLocator{err: iploc.ErrUnavailable})

	out, err := r.MatchText(context.Background(), "书店街")
	if err != nil {
		t.Fatal(err)
	}
	if !out.State.AwaitingChoice() || out.State.Resolved() {
		t.Fatalf("want awaiting choice, got %+v", out.State)
	}
	if out.Notice == "" {
		t.Fatal("want disambiguation notice")
	}

	if _, err := r.ChooseCandidate(5); err == nil {
		t.Fatal("want error for out-of-range index")
	}
	out, err = r.ChooseCandidate(1)
	if err != nil {
		t.Fatal(err)
	}
	st := out.State
	if st.Source != SourceManual || st.AwaitingChoice() {
		t.Fatalf("state = %+v, want manual resolved", st)
	}
	if st.Location.Lat != 39.90 {
		t.Fatalf("wrong candidate chosen: %+v", st.Location)
	}
}

func TestSetIntentExtractsAndResolves(t *testing.T) {
	g := &fakeGeocoder{candidates: map[string][]amap.Candidate{"开封书店街": {kaifeng()}}}
	r := NewResolver(g, &fakeIPLocator{err: iploc.ErrUnavailable})
	out, err := r.SetIntent(context.Background(), "到开封书店街了，找几家小吃")
	if err != nil {
		t.Fatal(err)
	}
	if !out.State.Resolved() || out.State.Source != SourceIntent {
		t.Fatalf("state = %+v", out.State)
	}
}

func TestSetIntentDoesNotOverrideManual(t *testing.T) {
	g := &fakeGeocoder{candidates: map[string][]amap.Candidate{
		"开封书店街": {kaifeng()},
		"上海":    {{FormattedAddress: "上海市", City: "上海市", Lat: 31.23, Lng: 121.47}},
	}}
	r := NewResolver(g, &fakeIPLocator{err: iploc.ErrUnavailable})
	if _, err := r.MatchText(context.Background(), "开封书店街"); err != nil {
		t.Fatal(err)
	}
	out, err := r.SetIntent(context.Background(), "到上海了")
	if err != nil {
		t.Fatal(err)
	}
	if out.State.Location.Lat != 34.7972 {
		t.Fatalf("manual origin overridden: %+v", out.State)
	}
}

func TestSetIntentSkipsRepeatedHint(t *testing.T) {
	g := &fakeGeocoder{candidates: map[string][]amap.Candidate{"开封书店街": {kaifeng()}}}
	r := NewResolver(g, &fakeIPLocator{err: iploc.ErrUnavailable})
	if _, err := r.SetIntent(context.Background(), "到开封书店街了"); err != nil {
		t.Fatal(err)
	}
	if _, err := r.SetIntent(context.Background(), "到开封书店街了，想吃灌汤包"); err != nil {
		t.Fatal(err)
	}
	if len(g.calls) != 1 {
		t.Fatalf("same hint resolved twice: %v", g.calls)
	}
}

func TestProvideGeoFixAccepted(t *testing.T) {
	g := &fakeGeocoder{regeo: &amap.Regeo{FormattedAddress: "开封市鼓楼区书店街"}}
	r := NewResolver(g, &fakeIPLocator{err: iploc.ErrUnavailable})
	out, err := r.ProvideGeoFix(context.Background(), GeoFix{Lat: 34.7972, Lng: 114.3074, AccuracyM: accuracy(35)})
	if err != nil {
		t.Fatal(err)
	}
	st := out.State
	if st.Source != SourceGeo || st.AccuracyM != 35 {
		t.Fatalf("state = %+v", st)
	}
	if st.Text != "开封市鼓楼区书店街" {
		t.Fatalf("text = %q", st.Text)
	}
}

func TestProvideGeoFixUnknownAccuracyAccepted(t *testing.T) {
	// 请求体缺省 accuracy_m 表示精度未知，不得当成 0 米也不得触发精度闸门
	ip := &fakeIPLocator{res: &iploc.Result{City: "开封市", Center: &geomath.Point{Lat: 34.79, Lng: 114.30}}}
	r := NewResolver(&fakeGeocoder{}, ip)
	out, err := r.ProvideGeoFix(context.Background(), GeoFix{Lat: 34.7972, Lng: 114.3074})
	if err != nil {
		t.Fatal(err)
	}
	if out.State.Source != SourceGeo {
		t.Fatalf("source = %q, want geo", out.State.Source)
	}
	if out.State.AccuracyM != -1 {
		t.Fatalf("accuracy = %v, want -1 (unknown)", out.State.AccuracyM)
	}
}

func TestProvideGeoFixLowAccuracyFallsBackToIP(t *testing.T) {
	ip := &fakeIPLocator{res: &iploc.Result{City: "开封市", Center: &geomath.Point{Lat: 34.79, Lng: 114.30}}}
	r := NewResolver(&fakeGeocoder{}, ip)
	out, err := r.ProvideGeoFix(context.Background(), GeoFix{Lat: 34.79, Lng: 114.30, AccuracyM: accuracy(9000)})
	if err != nil {
		t.Fatal(err)
	}
	if out.State.Source != SourceIP {
		t.Fatalf("source = %q, want ip", out.State.Source)
	}
}

func TestProvideGeoFixDriftRejected(t *testing.T) {
	// IP 缓存在开封，浏览器定位在上海，偏差远超 120km
	ip := &fakeIPLocator{res: &iploc.Result{City: "开封市", Center: &geomath.Point{Lat: 34.7972, Lng: 114.3074}}}
	r := NewResolver(&fakeGeocoder{}, ip)
	r.PrefetchIP(context.Background())

	out, err := r.ProvideGeoFix(context.Background(), GeoFix{Lat: 31.2304, Lng: 121.4737, AccuracyM: accuracy(50)})
	if err != nil {
		t.Fatal(err)
	}
	if out.State.Source != SourceIP {
		t.Fatalf("source = %q, want ip", out.State.Source)
	}
	if !strings.Contains(out.Notice, "IP 定位") || !strings.Contains(out.Notice, "km") {
		t.Fatalf("notice = %q", out.Notice)
	}
}

func TestProvideGeoFixIntentOverrides(t *testing.T) {
	g := &fakeGeocoder{
		candidates: map[string][]amap.Candidate{"开封书店街": {kaifeng()}},
		regeo:      &amap.Regeo{FormattedAddress: "郑州市某处"},
	}
	r := NewResolver(g, &fakeIPLocator{err: iploc.ErrUnavailable})
	if _, err := r.SetIntent(context.Background(), "到开封书店街了"); err != nil {
		t.Fatal(err)
	}
	out, err := r.ProvideGeoFix(context.Background(), GeoFix{Lat: 34.75, Lng: 113.62, AccuracyM: accuracy(30)})
	if err != nil {
		t.Fatal(err)
	}
	// 需求里明说的地点覆盖环境定位
	if out.State.Source != SourceIntent || out.State.Location.Lat != 34.7972 {
		t.Fatalf("state = %+v, want intent origin", out.State)
	}
}

func TestUseIPWithoutCenter(t *testing.T) {
	ip := &fakeIPLocator{res: &iploc.Result{City: "开封市"}}
	r := NewResolver(&fakeGeocoder{}, ip)
	if _, err := r.UseIP(context.Background()); err == nil {
		t.Fatal("want error when center unknown")
	}
}

func TestGeoFixFailedFallsBackToIP(t *testing.T) {
	ip := &fakeIPLocator{res: &iploc.Result{City: "开封市", Center: &geomath.Point{Lat: 34.79, Lng: 114.30}}}
	r := NewResolver(&fakeGeocoder{}, ip)
	out, err := r.GeoFixFailed(context.Background(), "用户拒绝定位授权")
	if err != nil {
		t.Fatalf("IP fallback should swallow the cause, got %v", err)
	}
	if out.State.Source != SourceIP {
		t.Fatalf("source = %q", out.State.Source)
	}
}

func TestGeoFixFailedWithoutBackend(t *testing.T) {
	r := NewResolver(&fakeGeocoder{}, &fakeIPLocator{err: iploc.ErrUnavailable})
	_, err := r.GeoFixFailed(context.Background(), "定位超时")
	if err == nil || err.Error() != "定位超时" {
		t.Fatalf("err = %v, want original cause", err)
	}
}

func TestPrefetchIPIsPassive(t *testing.T) {
	g := &fakeGeocoder{candidates: map[string][]amap.Candidate{"开封书店街": {kaifeng()}}}
	ip := &fakeIPLocator{res: &iploc.Result{City: "北京市", Center: &geomath.Point{Lat: 39.90, Lng: 116.40}}}
	r := NewResolver(g, ip)
	if _, err := r.MatchText(context.Background(), "开封书店街"); err != nil {
		t.Fatal(err)
	}
	r.PrefetchIP(context.Background())
	if st := r.Snapshot(); st.Source != SourceManual || st.Location.Lat != 34.7972 {
		t.Fatalf("prefetch touched resolved state: %+v", st)
	}
}

// blockingGeocoder：对指定地址卡在信道上，模拟慢响应与新请求交错返回
type blockingGeocoder struct {
	candidates map[string][]amap.Candidate
	hold       string
	entered    chan struct{}
	release    chan struct{}
}

func (g *blockingGeocoder) Geocode(_ context.Context, address, _ string) ([]amap.Candidate, error) {
	if address == g.hold {
		close(g.entered)
		<-g.release
	}
	return g.candidates[address], nil
}

func (g *blockingGeocoder) ReverseGeocode(context.Context, float64, float64) (*amap.Regeo, error) {
	return nil, errors.New("no regeo")
}

func TestSlowResolutionCannotOverwriteNewer(t *testing.T) {
	g := &blockingGeocoder{
		candidates: map[string][]amap.Candidate{
			"慢地址": {{FormattedAddress: "慢地址解析结果", Lat: 30.0, Lng: 110.0}},
			"快地址": {{FormattedAddress: "快地址解析结果", Lat: 34.7972, Lng: 114.3074}},
		},
		hold:    "慢地址",
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	r := NewResolver(g, &fakeIPLocator{err: iploc.ErrUnavailable})

	done := make(chan Outcome, 1)
	go func() {
		out, _ := r.MatchText(context.Background(), "慢地址")
		done <- out
	}()
	<-g.entered

	// 慢解析在途时用户又发起了新解析并已完成
	if _, err := r.MatchText(context.Background(), "快地址"); err != nil {
		t.Fatal(err)
	}
	close(g.release)
	slow := <-done

	// 迟到的结果必须被栅栏丢弃，最终状态与慢调用看到的快照都是新结果
	st := r.Snapshot()
	if st.Text != "快地址解析结果" || st.Location.Lat != 34.7972 {
		t.Fatalf("stale result overwrote newer state: %+v", st)
	}
	if slow.State.Text != "快地址解析结果" {
		t.Fatalf("slow call snapshot = %+v", slow.State)
	}
}

func TestRankCandidates(t *testing.T) {
	cands := []amap.Candidate{
		{FormattedAddress: "北京市西城区书店街", City: "北京市"},
		{FormattedAddress: "河南省开封市鼓楼区书店街", City: "开封市", District: "鼓楼区"},
	}
	ranked := RankCandidates(cands, "开封")
	if ranked[0].City != "开封市" {
		t.Fatalf("ranked = %+v", ranked)
	}
	// 无提示时保持供应商顺序
	same := RankCandidates(cands, "")
	if same[0].City != "北京市" {
		t.Fatalf("no-hint ranking reordered: %+v", same)
	}
}
