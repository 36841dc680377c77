package overlay

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pion/ice/v2"
)

const stunServer = "stun:stun.l.google.com:19302"

func newICEAgent() (*ice.Agent, error) {
	stunURL, err := ice.ParseURL(stunServer)
	if err != nil {
		return nil, fmt.Errorf("overlay: parsing stun url: %w", err)
	}
	agent, err := ice.NewAgent(&ice.AgentConfig{
		Urls:           []*ice.URL{stunURL},
		CandidateTypes: []ice.CandidateType{ice.CandidateTypeHost, ice.CandidateTypeServerReflexive},
		NetworkTypes:   []ice.NetworkType{ice.NetworkTypeUDP4},
	})
	if err != nil {
		return nil, fmt.Errorf("overlay: creating ice agent: %w", err)
	}
	return agent, nil
}

// negotiate drives agent through offer/answer/candidate exchange over topic
// and returns the net.Conn pion establishes once connectivity checks
// succeed. controlling names which side dials vs accepts, mirroring ICE's
// own terminology: the connecting side (Manager.Connect) is controlling and
// sends the offer; the accepting side (Manager.Accept) is controlled and
// answers.
func negotiate(ctx context.Context, agent *ice.Agent, sig *signalingClient, topic string, controlling bool) (net.Conn, error) {
	remoteCandidates := make(chan string, 16)
	remoteUfrag := make(chan string, 1)
	remotePwd := make(chan string, 1)

	expect := signalAnswer
	send := signalOffer
	if !controlling {
		expect = signalOffer
		send = signalAnswer
	}

	err := sig.subscribe(topic, func(_ mqtt.Client, msg mqtt.Message) {
		var m signalMessage
		if err := json.Unmarshal(msg.Payload(), &m); err != nil {
			return
		}
		if m.Candidate != "" {
			select {
			case remoteCandidates <- m.Candidate:
			default:
			}
			return
		}
		if m.Type != expect {
			return
		}
		if m.Ufrag != "" {
			select {
			case remoteUfrag <- m.Ufrag:
			default:
			}
		}
		if m.Pwd != "" {
			select {
			case remotePwd <- m.Pwd:
			default:
			}
		}
	})
	if err != nil {
		return nil, err
	}

	agent.OnCandidate(func(c ice.Candidate) {
		if c == nil {
			return
		}
		payload, err := json.Marshal(signalMessage{Type: send, Candidate: c.Marshal()})
		if err != nil {
			return
		}
		_ = sig.publish(topic, payload)
	})

	if err := agent.GatherCandidates(); err != nil {
		return nil, fmt.Errorf("overlay: gathering ice candidates: %w", err)
	}

	ufrag, pwd, err := agent.GetLocalUserCredentials()
	if err != nil {
		return nil, fmt.Errorf("overlay: reading local ice credentials: %w", err)
	}
	publishCreds := func() error {
		payload, err := json.Marshal(signalMessage{Type: send, Ufrag: ufrag, Pwd: pwd})
		if err != nil {
			return err
		}
		return sig.publish(topic, payload)
	}

	if controlling {
		if err := publishCreds(); err != nil {
			return nil, err
		}
	}

	var rUfrag, rPwd string
	select {
	case rUfrag = <-remoteUfrag:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case rPwd = <-remotePwd:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if !controlling {
		if err := publishCreds(); err != nil {
			return nil, err
		}
	}

	go func() {
		for {
			select {
			case c := <-remoteCandidates:
				if cand, err := ice.UnmarshalCandidate(c); err == nil {
					_ = agent.AddRemoteCandidate(cand)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if controlling {
		conn, err := agent.Dial(ctx, rUfrag, rPwd)
		if err != nil {
			return nil, fmt.Errorf("overlay: ice dial: %w", err)
		}
		return conn, nil
	}
	conn, err := agent.Accept(ctx, rUfrag, rPwd)
	if err != nil {
		return nil, fmt.Errorf("overlay: ice accept: %w", err)
	}
	return conn, nil
}
