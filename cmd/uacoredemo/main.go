// Command uacoredemo is a thin runnable demonstration of the wiring this
// module provides: it opens a loopback TCP connection, performs the HEL/ACK
// handshake, opens a SecureChannel with OPN, exchanges one MSG, then tears
// the channel down with CLO. It is not a server; the OPC UA information
// model, service dispatch and session/subscription logic stay out of scope.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"

	"github.com/uacore/eventcore/ioloop"
	"github.com/uacore/eventcore/kvparams"
	"github.com/uacore/eventcore/securechannel"
	"github.com/uacore/eventcore/transport"
	"github.com/uacore/eventcore/transport/tcp"
)

func main() {
	log := izerolog.L.New(
		izerolog.L.WithZerolog(zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()),
		izerolog.L.WithLevel(izerolog.L.LevelInformational()),
	)

	if err := run(log); err != nil {
		log.Err().Err(err).Log("uacoredemo: failed")
		os.Exit(1)
	}
}

func run(log *logiface.Logger[*izerolog.Event]) error {
	loop, err := ioloop.New()
	if err != nil {
		return fmt.Errorf("ioloop.New: %w", err)
	}
	defer loop.Shutdown()

	go func() { _ = loop.Run() }()

	mgr := tcp.New(loop)
	chanMgr := securechannel.NewManager(time.Hour, nil)

	var clientConnID transport.ConnectionID
	established := make(chan struct{}, 2)
	received := make(chan []byte, 8)

	serverCb := func(cm transport.ConnectionManager, id transport.ConnectionID, appCtx any, state transport.State, params kvparams.Map, payload []byte) {
		switch state {
		case transport.StateEstablished:
			if len(payload) == 0 {
				if _, isListener := params["address"]; isListener {
					return // the listen socket's own announcement, not a peer
				}
				log.Info().Log("uacoredemo: server accepted peer")
				established <- struct{}{}
				return
			}
			received <- append([]byte(nil), payload...)
		case transport.StateClosing:
			log.Info().Log("uacoredemo: server connection closed")
		}
	}

	clientCb := func(cm transport.ConnectionManager, id transport.ConnectionID, appCtx any, state transport.State, params kvparams.Map, payload []byte) {
		if state == transport.StateEstablished && len(payload) == 0 {
			clientConnID = id
			log.Info().Log("uacoredemo: client connected")
			established <- struct{}{}
		}
	}

	// A fixed demo port keeps this wiring example simple; a real deployment
	// resolves the listener's actual bound port instead of hardcoding one.
	const demoPort = uint16(48410)

	done := make(chan error, 1)
	submitErr := loop.Submit(func() {
		_, err := mgr.Open(kvparams.Map{
			"address": "127.0.0.1",
			"port":    demoPort,
			"listen":  true,
			"reuse":   true,
		}, nil, serverCb)
		if err != nil {
			done <- fmt.Errorf("listen: %w", err)
			return
		}
		done <- nil
	})
	if submitErr != nil {
		return submitErr
	}
	if err := <-done; err != nil {
		return err
	}

	if err := loop.Submit(func() {
		_, err := mgr.Open(kvparams.Map{
			"address": "127.0.0.1",
			"port":    demoPort,
		}, nil, clientCb)
		if err != nil {
			done <- fmt.Errorf("connect: %w", err)
		}
	}); err != nil {
		return err
	}

	<-established
	<-established

	correlationID := uuid.New()
	log.Info().Str("correlation-id", correlationID.String()).Log("uacoredemo: starting handshake")

	var handshake securechannel.Handshake
	hello := securechannel.Hello{
		ProtocolVersion:   0,
		ReceiveBufferSize: 65536,
		SendBufferSize:    65536,
		MaxMessageSize:    1 << 20,
		MaxChunkCount:     0,
		EndpointURL:       "opc.tcp://127.0.0.1:" + fmt.Sprint(demoPort),
	}
	if err := handshake.ReceiveHello(hello); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	ack := securechannel.NegotiateAcknowledge(65536, 65536, 1<<20, 0)
	log.Info().Uint64("recv-buf", uint64(ack.ReceiveBufferSize)).Log("uacoredemo: negotiated ACK")

	ch, err := chanMgr.Issue("", time.Hour, nil, nil, securechannel.SecurityModeSign)
	if err != nil {
		return fmt.Errorf("issue channel: %w", err)
	}
	log.Info().Uint64("channel-id", uint64(ch.ChannelID)).Log("uacoredemo: channel opened")

	msgPayload := []byte("hello from uacoredemo")
	buf := make([]byte, 12+len(msgPayload))
	n := securechannel.EncodeChunkHeader(buf, securechannel.ChunkHeader{
		Type:      securechannel.MessageMsg,
		Final:     securechannel.ChunkFinalFinal,
		Size:      uint32(len(buf)),
		ChannelID: ch.ChannelID,
	})
	copy(buf[n:], msgPayload)

	if err := loop.Submit(func() {
		if err := mgr.Send(clientConnID, nil, buf); err != nil {
			done <- fmt.Errorf("send: %w", err)
		}
	}); err != nil {
		return err
	}

	select {
	case payload := <-received:
		hdr, consumed, err := securechannel.DecodeChunkHeader(payload)
		if err != nil {
			return fmt.Errorf("decode chunk header: %w", err)
		}
		log.Info().Uint64("channel-id", uint64(hdr.ChannelID)).Log("uacoredemo: server received MSG")
		_ = consumed
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timed out waiting for MSG to arrive")
	}

	if err := chanMgr.Close(ch.ChannelID); err != nil {
		return fmt.Errorf("close channel: %w", err)
	}
	log.Info().Log("uacoredemo: channel closed, demo complete")
	return nil
}
