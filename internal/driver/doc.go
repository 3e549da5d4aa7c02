// Package driver implements the device driver that reaches controllers
// through the vendor gateway over MQTT.
//
// The gateway process owns the vendor SDK and the native device handles.
// accessd publishes each request on {prefix}/request/{deviceID}/{requestID}
// and the gateway answers on {prefix}/response/{requestID}. A request that
// gets no answer before its context ends reports ErrCode -1.
package driver
