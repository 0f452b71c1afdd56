package grpcstore

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"3send.xyz/send/store"
)

// Server exposes a store.Store over the ControlPlane gRPC service.
type Server struct {
	UnimplementedControlPlaneServer
	Store store.Store
}

func (s *Server) Get(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BytesValue, error) {
	req, err := s.decode(in)
	if err != nil {
		return nil, err
	}
	value, found, err := s.Store.Get(ctx, req.Namespace, req.Key)
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	reply, err := json.Marshal(getReply{Found: found, Value: value})
	if err != nil {
		return nil, status.Error(codes.Internal, "encode reply")
	}
	return wrapperspb.Bytes(reply), nil
}

func (s *Server) Set(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BoolValue, error) {
	req, err := s.decode(in)
	if err != nil {
		return nil, err
	}
	if err := s.Store.Set(ctx, req.Namespace, req.Key, req.Value); err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return wrapperspb.Bool(true), nil
}

func (s *Server) SetIfAbsent(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BoolValue, error) {
	req, err := s.decode(in)
	if err != nil {
		return nil, err
	}
	won, err := s.Store.SetIfAbsent(ctx, req.Namespace, req.Key, req.Value)
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return wrapperspb.Bool(won), nil
}

func (s *Server) Delete(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.BoolValue, error) {
	req, err := s.decode(in)
	if err != nil {
		return nil, err
	}
	if err := s.Store.Delete(ctx, req.Namespace, req.Key); err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	return wrapperspb.Bool(true), nil
}

func (s *Server) GetAll(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing store")
	}
	all, err := s.Store.GetAll(ctx, in.GetValue())
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	reply, err := json.Marshal(all)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode reply")
	}
	return wrapperspb.Bytes(reply), nil
}

func (s *Server) decode(in *wrapperspb.BytesValue) (*kvRequest, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing store")
	}
	var req kvRequest
	if err := json.Unmarshal(in.GetValue(), &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, "malformed request")
	}
	if req.Namespace == "" || req.Key == "" {
		return nil, status.Error(codes.InvalidArgument, "namespace and key are required")
	}
	return &req, nil
}
