package httpapi

import (
	"io"
	"mime"
	"net/http"
	"strings"

	"google.golang.org/protobuf/proto"
)

const protobufContentType = "application/x-protobuf"

// isProtobuf returns true if the request body is protobuf.
func isProtobuf(r *http.Request) bool {
	return isProtobufType(r.Header.Get("Content-Type"))
}

// wantsProtobuf returns true if the client asked for a protobuf response.
func wantsProtobuf(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		if isProtobufType(part) {
			return true
		}
	}
	return false
}

func isProtobufType(v string) bool {
	mt, _, err := mime.ParseMediaType(strings.TrimSpace(v))
	if err != nil {
		return false
	}
	return mt == protobufContentType || mt == "application/protobuf"
}

// readProto reads at most limit bytes of the body and unmarshals them into msg.
func readProto(r *http.Request, msg proto.Message, limit int64) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, limit))
	if err != nil {
		return err
	}
	return proto.Unmarshal(body, msg)
}

// writeProto marshals msg and writes it with the given HTTP status.
func writeProto(w http.ResponseWriter, status int, msg proto.Message) {
	data, err := proto.Marshal(msg)
	if err != nil {
		// Fall back to a plain-text error if marshalling fails.
		http.Error(w, "proto marshal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", protobufContentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
