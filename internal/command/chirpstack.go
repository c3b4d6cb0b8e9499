// Package command sends downlink payloads to devices through the ChirpStack
// device queue. It is the only package that talks gRPC.
package command

import (
	"context"
	"fmt"

	"github.com/chirpstack/chirpstack/api/go/v4/api"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// ChirpStack enqueues downlinks via the ChirpStack DeviceService. One client
// serves all dispatch workers; gRPC multiplexes calls over the connection.
type ChirpStack struct {
	conn      *grpc.ClientConn
	devices   api.DeviceServiceClient
	apiToken  string
	fPort     uint32
	confirmed bool
}

// NewChirpStack connects to the ChirpStack gRPC endpoint at server.
// The connection is lazy; a bad address surfaces on the first Enqueue.
func NewChirpStack(server, apiToken string, fPort uint32, confirmed bool) (*ChirpStack, error) {
	conn, err := grpc.NewClient(server, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect chirpstack %s: %w", server, err)
	}

	return &ChirpStack{
		conn:      conn,
		devices:   api.NewDeviceServiceClient(conn),
		apiToken:  apiToken,
		fPort:     fPort,
		confirmed: confirmed,
	}, nil
}

// Enqueue places payload on the device queue of devEUI and returns the queue
// item ID assigned by ChirpStack.
func (c *ChirpStack) Enqueue(ctx context.Context, devEUI string, payload []byte) (string, error) {
	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+c.apiToken)

	resp, err := c.devices.Enqueue(ctx, &api.EnqueueDeviceQueueItemRequest{
		QueueItem: &api.DeviceQueueItem{
			DevEui:    devEUI,
			FPort:     c.fPort,
			Confirmed: c.confirmed,
			Data:      payload,
		},
	})
	if err != nil {
		return "", fmt.Errorf("enqueue downlink for %s: %w", devEUI, err)
	}
	return resp.GetId(), nil
}

// Close tears down the gRPC connection.
func (c *ChirpStack) Close() error {
	return c.conn.Close()
}
