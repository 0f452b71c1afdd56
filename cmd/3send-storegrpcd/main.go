package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"google.golang.org/grpc"

	"3send.xyz/send/store/boltstore"
	"3send.xyz/send/store/grpcstore"
)

func main() {
	fs := flag.NewFlagSet("3send-storegrpcd", flag.ExitOnError)
	listen := fs.String("listen", "127.0.0.1:7878", "listen address")
	dbPath := fs.String("db", "control.db", "bolt database path")

	_ = fs.Parse(os.Args[1:])

	st, err := boltstore.Open(*dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer st.Close()

	lis, err := net.Listen("tcp", *listen)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer lis.Close()

	s := grpc.NewServer()
	grpcstore.RegisterControlPlaneServer(s, &grpcstore.Server{Store: st})

	fmt.Fprintf(os.Stderr, "3send-storegrpcd listening on %s (db=%s)\n", lis.Addr().String(), *dbPath)
	if err := s.Serve(lis); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
