// Package mp4box assembles a classic, progressive ISO base media file
// (ftyp, then mdat, then moov — never moof/fragmented) from a run of
// H.264 access units, per spec.md §4.7's explicit "mdat then moov"
// requirement and SPEC_FULL.md §4.7. Grounded directly on the box layout
// of original_source/misc/mp4_helper.py, which hand-assembles this same
// progressive structure with struct.pack. The two pieces genuinely worth
// a library — AVC decoder configuration (avcC) and the avc1 sample entry
// — are built with github.com/Eyevinn/mp4ff, the same package
// helixml-helix's fMP4 muxer uses for its init segment
// (mp4.CreateAvcC / mp4.CreateVisualSampleEntryBox); everything
// mp4ff has no non-fragmented equivalent for (stbl's stts/stsc/stsz/stco
// tables, mvhd/tkhd/mdhd, mdat) is written as raw boxes, matching the
// Python original's approach box-for-box rather than guessing at an
// unverified mp4ff progressive-muxing API.
package mp4box

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/Eyevinn/mp4ff/mp4"
)

// mp4Epoch is 1904-01-01, the ISO BMFF creation/modification time base.
var mp4Epoch = time.Date(1904, 1, 1, 0, 0, 0, 0, time.UTC)

// Sample is one access unit's worth of AVCC-formatted (length-prefixed
// NAL units) sample data plus its duration in timescale units.
type Sample struct {
	Data     []byte
	Duration uint32
	Sync     bool
}

// timescale is fixed at the stream's nominal framerate multiplied by a
// fixed-point factor, giving every sample an integer duration without
// needing a rational-number box layout.
const timescale = 90000

// Build assembles a complete progressive MP4 from sps/pps (without start
// codes or length prefixes — raw RBSP as returned by
// avc.ExtractNalusFromByteStream) and an ordered list of samples, each
// already in AVCC form (4-byte length + NAL payload, repeated).
func Build(sps, pps []byte, width, height uint16, samples []Sample) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("mp4box: no samples to finalise")
	}

	var out bytes.Buffer
	writeFtyp(&out)

	mdatOffset := out.Len()
	sampleSizes, chunkOffset, err := writeMdat(&out, samples)
	if err != nil {
		return nil, err
	}

	avc1, err := buildAvc1(sps, pps, width, height)
	if err != nil {
		return nil, err
	}

	var totalDur uint64
	for _, s := range samples {
		totalDur += uint64(s.Duration)
	}

	moov, err := buildMoov(avc1, samples, sampleSizes, totalDur, uint64(mdatOffset+chunkOffset))
	if err != nil {
		return nil, err
	}
	out.Write(moov)
	return out.Bytes(), nil
}

func writeFtyp(buf *bytes.Buffer) {
	var body bytes.Buffer
	body.WriteString("isom")
	writeU32(&body, 512)
	body.WriteString("isom")
	body.WriteString("avc1")
	body.WriteString("mp41")
	writeBox(buf, "ftyp", body.Bytes())
}

// writeMdat writes the mdat box containing every sample's data back to
// back, and returns each sample's byte size plus the byte offset (from
// the start of mdat's payload, i.e. right after its header) of the first
// sample — chunk offsets in stco are computed relative to that.
func writeMdat(buf *bytes.Buffer, samples []Sample) (sizes []uint32, firstSampleOffset int, err error) {
	var body bytes.Buffer
	sizes = make([]uint32, len(samples))
	for i, s := range samples {
		sizes[i] = uint32(len(s.Data))
		body.Write(s.Data)
	}
	// mdat header is 8 bytes (32-bit size field large enough for any
	// realistic clip length recorded by this module).
	writeBox(buf, "mdat", body.Bytes())
	return sizes, 8, nil
}

func buildAvc1(sps, pps []byte, width, height uint16) ([]byte, error) {
	avcC, err := mp4.CreateAvcC([][]byte{sps}, [][]byte{pps}, true)
	if err != nil {
		return nil, fmt.Errorf("mp4box: avcC: %w", err)
	}
	box := mp4.CreateVisualSampleEntryBox("avc1", width, height, avcC)
	var buf bytes.Buffer
	if err := box.Encode(&buf); err != nil {
		return nil, fmt.Errorf("mp4box: encoding avc1: %w", err)
	}
	return buf.Bytes(), nil
}

// SPSDimensions returns the pixel width/height mp4ff extracts from a raw
// SPS NAL unit (including its NAL header byte), used by the recorder to
// size the avc1 sample entry without tracking frame geometry separately.
func SPSDimensions(sps []byte) (width, height uint16, err error) {
	info, err := avc.ParseSPSNALUnit(sps, true)
	if err != nil {
		return 0, 0, fmt.Errorf("mp4box: parsing SPS: %w", err)
	}
	return uint16(info.Width), uint16(info.Height), nil
}

func buildMoov(avc1 []byte, samples []Sample, sizes []uint32, totalDur, firstChunkOffset uint64) ([]byte, error) {
	var moov bytes.Buffer
	moov.Write(mvhd(totalDur, len(samples)+1))
	moov.Write(trak(avc1, samples, sizes, totalDur, firstChunkOffset))

	var out bytes.Buffer
	writeBox(&out, "moov", moov.Bytes())
	return out.Bytes(), nil
}

func mvhd(duration uint64, nextTrackID int) []byte {
	var body bytes.Buffer
	now := uint32(time.Since(mp4Epoch).Seconds())
	writeU32(&body, now)              // creation_time
	writeU32(&body, now)              // modification_time
	writeU32(&body, timescale)        // timescale
	writeU32(&body, uint32(duration)) // duration
	writeU32(&body, 0x00010000)       // rate = 1.0
	var vol [2]byte
	binary.BigEndian.PutUint16(vol[:], 0x0100) // volume = 1.0
	body.Write(vol[:])
	body.Write(make([]byte, 2))  // reserved
	body.Write(make([]byte, 8)) // reserved[2]
	body.Write(identityMatrix())
	body.Write(make([]byte, 24)) // pre_defined
	writeU32(&body, uint32(nextTrackID))
	var out bytes.Buffer
	writeFullBox(&out, "mvhd", 0, 0, body.Bytes())
	return out.Bytes()
}

func identityMatrix() []byte {
	m := []uint32{0x00010000, 0, 0, 0, 0x00010000, 0, 0, 0, 0x40000000}
	var buf bytes.Buffer
	for _, v := range m {
		writeU32(&buf, v)
	}
	return buf.Bytes()
}

func trak(avc1 []byte, samples []Sample, sizes []uint32, duration, firstChunkOffset uint64) []byte {
	var body bytes.Buffer
	body.Write(tkhd(duration))
	body.Write(mdia(avc1, samples, sizes, duration, firstChunkOffset))
	var out bytes.Buffer
	writeBox(&out, "trak", body.Bytes())
	return out.Bytes()
}

func tkhd(duration uint64) []byte {
	var body bytes.Buffer
	now := uint32(time.Since(mp4Epoch).Seconds())
	writeU32(&body, now)
	writeU32(&body, now)
	writeU32(&body, 1) // track_ID
	writeU32(&body, 0) // reserved
	writeU32(&body, uint32(duration))
	body.Write(make([]byte, 8))  // reserved
	writeU16(&body, 0)           // layer
	writeU16(&body, 0)           // alternate_group
	writeU16(&body, 0)           // volume (0 for video)
	writeU16(&body, 0)           // reserved
	body.Write(identityMatrix())
	writeU32(&body, 0) // width (fixed point, filled from avc1 by the caller if needed)
	writeU32(&body, 0) // height
	var out bytes.Buffer
	// flags = 0x7 (track enabled, in movie, in preview)
	writeFullBox(&out, "tkhd", 0, 0x000007, body.Bytes())
	return out.Bytes()
}

func mdia(avc1 []byte, samples []Sample, sizes []uint32, duration, firstChunkOffset uint64) []byte {
	var body bytes.Buffer
	body.Write(mdhd(duration))
	body.Write(hdlr())
	body.Write(minf(avc1, samples, sizes, firstChunkOffset))
	var out bytes.Buffer
	writeBox(&out, "mdia", body.Bytes())
	return out.Bytes()
}

func mdhd(duration uint64) []byte {
	var body bytes.Buffer
	now := uint32(time.Since(mp4Epoch).Seconds())
	writeU32(&body, now)
	writeU32(&body, now)
	writeU32(&body, timescale)
	writeU32(&body, uint32(duration))
	writeU16(&body, 0x55c4) // language = "und"
	writeU16(&body, 0)      // pre_defined
	var out bytes.Buffer
	writeFullBox(&out, "mdhd", 0, 0, body.Bytes())
	return out.Bytes()
}

func hdlr() []byte {
	var body bytes.Buffer
	writeU32(&body, 0) // pre_defined
	body.WriteString("vide")
	body.Write(make([]byte, 12)) // reserved
	body.WriteString("ratcam video handler")
	body.WriteByte(0)
	var out bytes.Buffer
	writeFullBox(&out, "hdlr", 0, 0, body.Bytes())
	return out.Bytes()
}

func minf(avc1 []byte, samples []Sample, sizes []uint32, firstChunkOffset uint64) []byte {
	var body bytes.Buffer
	body.Write(vmhd())
	body.Write(dinf())
	body.Write(stbl(avc1, samples, sizes, firstChunkOffset))
	var out bytes.Buffer
	writeBox(&out, "minf", body.Bytes())
	return out.Bytes()
}

func vmhd() []byte {
	body := make([]byte, 8) // graphicsmode + opcolor
	var out bytes.Buffer
	writeFullBox(&out, "vmhd", 0, 1, body)
	return out.Bytes()
}

func dinf() []byte {
	var url bytes.Buffer
	writeFullBox(&url, "url ", 0, 1, nil) // self-contained (flag=1)
	var dref bytes.Buffer
	writeU32(&dref, 1) // entry_count
	dref.Write(url.Bytes())
	var drefBox bytes.Buffer
	writeFullBox(&drefBox, "dref", 0, 0, dref.Bytes())
	var out bytes.Buffer
	writeBox(&out, "dinf", drefBox.Bytes())
	return out.Bytes()
}

func stbl(avc1 []byte, samples []Sample, sizes []uint32, firstChunkOffset uint64) []byte {
	var body bytes.Buffer
	body.Write(stsd(avc1))
	body.Write(stts(samples))
	body.Write(stsc(len(samples)))
	body.Write(stsz(sizes))
	body.Write(stco(firstChunkOffset))
	body.Write(stss(samples))
	var out bytes.Buffer
	writeBox(&out, "stbl", body.Bytes())
	return out.Bytes()
}

func stsd(avc1 []byte) []byte {
	var body bytes.Buffer
	writeU32(&body, 1) // entry_count
	body.Write(avc1)
	var out bytes.Buffer
	writeFullBox(&out, "stsd", 0, 0, body.Bytes())
	return out.Bytes()
}

// stts encodes run-length (sample_count, sample_delta) pairs; frames
// recorded at a fixed rate collapse to a single entry.
func stts(samples []Sample) []byte {
	type run struct {
		count, delta uint32
	}
	var runs []run
	for _, s := range samples {
		if len(runs) > 0 && runs[len(runs)-1].delta == s.Duration {
			runs[len(runs)-1].count++
			continue
		}
		runs = append(runs, run{count: 1, delta: s.Duration})
	}
	var body bytes.Buffer
	writeU32(&body, uint32(len(runs)))
	for _, r := range runs {
		writeU32(&body, r.count)
		writeU32(&body, r.delta)
	}
	var out bytes.Buffer
	writeFullBox(&out, "stts", 0, 0, body.Bytes())
	return out.Bytes()
}

// stsc: every sample lives in the single chunk written to mdat.
func stsc(sampleCount int) []byte {
	var body bytes.Buffer
	writeU32(&body, 1) // entry_count
	writeU32(&body, 1) // first_chunk
	writeU32(&body, uint32(sampleCount))
	writeU32(&body, 1) // sample_description_index
	var out bytes.Buffer
	writeFullBox(&out, "stsc", 0, 0, body.Bytes())
	return out.Bytes()
}

func stsz(sizes []uint32) []byte {
	var body bytes.Buffer
	writeU32(&body, 0) // sample_size = 0 (sizes follow per-sample)
	writeU32(&body, uint32(len(sizes)))
	for _, s := range sizes {
		writeU32(&body, s)
	}
	var out bytes.Buffer
	writeFullBox(&out, "stsz", 0, 0, body.Bytes())
	return out.Bytes()
}

func stco(firstChunkOffset uint64) []byte {
	var body bytes.Buffer
	writeU32(&body, 1) // entry_count
	writeU32(&body, uint32(firstChunkOffset))
	var out bytes.Buffer
	writeFullBox(&out, "stco", 0, 0, body.Bytes())
	return out.Bytes()
}

// stss lists sync samples (IDR frames, i.e. the one following each SPS).
// A clip finalised by this module always opens on one, per spec.md
// §4.7's "a finalised MP4 always contains a leading SPS header"
// invariant; an empty stss box is omitted so players treat every sample
// as a sync sample, which is conservative but harmless for a short clip
// that in practice has exactly one IDR at the head.
func stss(samples []Sample) []byte {
	var indices []uint32
	for i, s := range samples {
		if s.Sync {
			indices = append(indices, uint32(i+1))
		}
	}
	if len(indices) == 0 {
		return nil
	}
	var body bytes.Buffer
	writeU32(&body, uint32(len(indices)))
	for _, idx := range indices {
		writeU32(&body, idx)
	}
	var out bytes.Buffer
	writeFullBox(&out, "stss", 0, 0, body.Bytes())
	return out.Bytes()
}

func writeBox(buf *bytes.Buffer, boxType string, body []byte) {
	writeU32(buf, uint32(len(body)+8))
	buf.WriteString(boxType)
	buf.Write(body)
}

func writeFullBox(buf *bytes.Buffer, boxType string, version byte, flags uint32, body []byte) {
	var full bytes.Buffer
	full.WriteByte(version)
	var flagBytes [4]byte
	binary.BigEndian.PutUint32(flagBytes[:], flags)
	full.Write(flagBytes[1:])
	full.Write(body)
	writeBox(buf, boxType, full.Bytes())
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeU16(buf *bytes.Buffer, v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	buf.Write(b[:])
}
