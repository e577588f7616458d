package codec

import (
	"testing"
)

func benchSnapshots(b *testing.B) (*Snapshot, *Snapshot) {
	b.Helper()
	baseline := &Snapshot{Tick: 100}
	current := &Snapshot{Tick: 101}
	for i := 0; i < 64; i++ {
		id := EntityID(i + 1)
		x, y := float64(i), float64(-i)
		baseline.Entities = append(baseline.Entities, Entity{
			ID:         id,
			Components: []Component{transform(x, y, uint64(i%512), true), score(uint32(i), int32(-i), int64(i))},
		})
		cur := Entity{
			ID:         id,
			Components: []Component{transform(x, y, uint64(i%512), true), score(uint32(i), int32(-i), int64(i))},
		}
		// A quarter of the entities move each tick.
		if i%4 == 0 {
			cur.Components[0] = transform(x+1, y, uint64(i%512), true)
		}
		current.Entities = append(current.Entities, cur)
	}
	return baseline, current
}

func BenchmarkEncodeFull(b *testing.B) {
	c, scratch := testCodec(b)
	_, current := benchSnapshots(b)
	buf := make([]byte, 64<<10)
	n, err := c.EncodeFull(buf, current, scratch)
	if err != nil {
		b.Fatalf("EncodeFull: %v", err)
	}
	b.SetBytes(int64(n))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.EncodeFull(buf, current, scratch); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecodeFull(b *testing.B) {
	c, scratch := testCodec(b)
	_, current := benchSnapshots(b)
	buf := make([]byte, 64<<10)
	n, err := c.EncodeFull(buf, current, scratch)
	if err != nil {
		b.Fatalf("EncodeFull: %v", err)
	}
	pkt := buf[:n]
	b.SetBytes(int64(n))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.DecodeFull(pkt); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEncodeDelta(b *testing.B) {
	c, scratch := testCodec(b)
	baseline, current := benchSnapshots(b)
	buf := make([]byte, 64<<10)
	n, err := c.EncodeDelta(buf, baseline, current, scratch)
	if err != nil {
		b.Fatalf("EncodeDelta: %v", err)
	}
	b.SetBytes(int64(n))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.EncodeDelta(buf, baseline, current, scratch); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDecodeDelta(b *testing.B) {
	c, scratch := testCodec(b)
	baseline, current := benchSnapshots(b)
	buf := make([]byte, 64<<10)
	n, err := c.EncodeDelta(buf, baseline, current, scratch)
	if err != nil {
		b.Fatalf("EncodeDelta: %v", err)
	}
	pkt := buf[:n]
	b.SetBytes(int64(n))
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.DecodeDelta(pkt); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkApplyDelta(b *testing.B) {
	c, scratch := testCodec(b)
	baseline, current := benchSnapshots(b)
	buf := make([]byte, 64<<10)
	n, err := c.EncodeDelta(buf, baseline, current, scratch)
	if err != nil {
		b.Fatalf("EncodeDelta: %v", err)
	}
	d, err := c.DecodeDelta(buf[:n])
	if err != nil {
		b.Fatalf("DecodeDelta: %v", err)
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := c.ApplyDelta(baseline, d); err != nil {
			b.Fatal(err)
		}
	}
}
