package wire

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		head Head
		body []byte
	}{
		{
			name: "request with body",
			head: Head{ID: 7, Kind: KindRequest, BodySize: 5},
			body: []byte("hello"),
		},
		{
			name: "response with zero body",
			head: Head{ID: 8, Kind: KindResponse},
		},
		{
			name: "stream part",
			head: Head{ID: 9, Kind: KindStreamPart, StreamID: 42, StreamType: StreamResource, Parts: 3, Part: 1, BodySize: 4},
			body: []byte("abcd"),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.head.BodySize = uint32(len(tc.body))
			var buf bytes.Buffer
			if err := Encode(&buf, tc.head, tc.body); err != nil {
				t.Fatalf("Encode: %v", err)
			}

			got, err := ReadPacket(&buf)
			if err != nil {
				t.Fatalf("ReadPacket: %v", err)
			}
			if got.Head != tc.head {
				t.Fatalf("head mismatch: got %+v want %+v", got.Head, tc.head)
			}
			if !bytes.Equal(got.Body, tc.body) {
				t.Fatalf("body mismatch: got %q want %q", got.Body, tc.body)
			}
		})
	}
}

func TestReadPacketRejectsZeroPartsStream(t *testing.T) {
	head := Head{ID: 1, Kind: KindStreamPart, StreamID: 5, Parts: 0}
	raw := make([]byte, HeadSize)
	encodeHead(raw, head)

	_, err := ReadPacket(bytes.NewReader(raw))
	var malformed *MalformedHeadError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedHeadError, got %v", err)
	}
}

func TestReadPacketRejectsOversizedBody(t *testing.T) {
	raw := make([]byte, HeadSize)
	encodeHead(raw, Head{ID: 1, Kind: KindRequest, BodySize: MaxBodySize + 1})

	_, err := ReadPacket(bytes.NewReader(raw))
	var malformed *MalformedHeadError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedHeadError, got %v", err)
	}
}

func TestEncodeRejectsBodySizeMismatch(t *testing.T) {
	var buf bytes.Buffer
	err := Encode(&buf, Head{BodySize: 3}, []byte("ab"))
	var malformed *MalformedHeadError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedHeadError, got %v", err)
	}
}
