package router

import (
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/fabricsub/pkg/controller"
	"github.com/cuemby/fabricsub/pkg/types"
)

// EpmPayload is the fully-typed body carried by an EPM work envelope:
// address, vnid, and node, as required by §4.3 item 3.
type EpmPayload struct {
	Node   string `json:"node"`
	Vnid   uint32 `json:"vnid"`
	Addr   string `json:"addr"`
	Type   types.EndpointType `json:"type"`
	Status types.EndpointStatus `json:"status"`
}

// ParseEpmEvent implements the EpmEventParser named in §4.3: it turns one
// raw epm* controller event into zero or more fully-typed envelopes.
// epmRsMacEpToIpEpAtt carries both a MAC and an IP address and is the only
// class that can produce two envelopes: one EPM_RS_IP_EVENT per address
// present, the first mac-typed and the second ip-typed.
func ParseEpmEvent(fabric string, ev controller.ClassQueryResult) []*types.Envelope {
	vnid := parseVnidFromEncap(ev.Attrs["encap"])
	node := ev.Attrs["node"]
	status := types.EndpointStatus(ev.Attrs["status"])
	if status == "" {
		status = types.EndpointStatusCreated
	}

	switch ev.Class {
	case "epmMacEp":
		return []*types.Envelope{
			epmEnvelope(fabric, types.WorkEpmMacEvent, node, vnid, ev.Attrs["addr"], types.EndpointTypeMac, status),
		}
	case "epmIpEp":
		return []*types.Envelope{
			epmEnvelope(fabric, types.WorkEpmIPEvent, node, vnid, ev.Attrs["addr"], types.EndpointTypeIP, status),
		}
	case "epmRsMacEpToIpEpAtt":
		var out []*types.Envelope
		if mac := ev.Attrs["macAddr"]; mac != "" {
			out = append(out, epmEnvelope(fabric, types.WorkEpmRsIPEvent, node, vnid, mac, types.EndpointTypeMac, status))
		}
		if ip := ev.Attrs["ipAddr"]; ip != "" {
			out = append(out, epmEnvelope(fabric, types.WorkEpmRsIPEvent, node, vnid, ip, types.EndpointTypeIP, status))
		}
		return out
	default:
		return nil
	}
}

func epmEnvelope(fabric string, workType types.WorkType, node string, vnid uint32, addr string, t types.EndpointType, status types.EndpointStatus) *types.Envelope {
	return &types.Envelope{
		Fabric:   fabric,
		MsgType:  types.MsgTypeWork,
		WorkType: workType,
		Role:     types.RoleWorker,
		Vnid:     vnid,
		Addr:     addr,
		Qnum:     0,
		Payload:  EpmPayload{Node: node, Vnid: vnid, Addr: addr, Type: t, Status: status},
		Ts:       time.Now(),
	}
}

// SyntheticEpmDelete builds a DELETE-status envelope for one endpoint class
// without a raw controller event, used by build_endpoint_db to retire
// endpoints present in history but absent from the live class query (§4.4
// phase 7, S6). class must be one of epmMacEp, epmIpEp, epmRsMacEpToIpEpAtt.
func SyntheticEpmDelete(fabric, class, node string, vnid uint32, addr string) *types.Envelope {
	switch class {
	case "epmMacEp":
		return epmEnvelope(fabric, types.WorkEpmMacEvent, node, vnid, addr, types.EndpointTypeMac, types.EndpointStatusDeleted)
	case "epmIpEp":
		return epmEnvelope(fabric, types.WorkEpmIPEvent, node, vnid, addr, types.EndpointTypeIP, types.EndpointStatusDeleted)
	case "epmRsMacEpToIpEpAtt":
		return epmEnvelope(fabric, types.WorkEpmRsIPEvent, node, vnid, addr, types.EndpointTypeIP, types.EndpointStatusDeleted)
	default:
		return nil
	}
}

// parseVnidFromEncap parses the "vxlan-<n>" form the controller reports
// for an endpoint's bridge domain/vrf encap (§4.4 phase 4 uses the same
// parsing for external vnids).
func parseVnidFromEncap(encap string) uint32 {
	n := strings.TrimPrefix(encap, "vxlan-")
	v, err := strconv.ParseUint(n, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}
