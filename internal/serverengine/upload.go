/*
Copyright 2026 The cryptobackup authors.

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published
by the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package serverengine

import (
	"os"
	"path/filepath"

	"github.com/backube/cryptobackup/internal/apperrors"
	"github.com/backube/cryptobackup/internal/cryptoutil"
	"github.com/backube/cryptobackup/internal/protocol"
	"github.com/backube/cryptobackup/internal/session"
	"github.com/backube/cryptobackup/internal/validate"
)

// handleSendFile processes one SendFile frame. The first frame of an
// upload attempt (packet_num 1) opens a fresh temp file and decrypter;
// later frames in the same attempt append to it; the frame that completes
// total_packets triggers finalization and a FileReceived response.
func (s *Session) handleSendFile(reqHeader protocol.RequestHeader, payload []byte) error {
	if s.phase != session.PhaseKeyReady && s.phase != session.PhaseUploading {
		return s.protocolViolation("SendFile received before key exchange completed")
	}
	if reqHeader.ClientID != s.clientID {
		return s.protocolViolation("SendFile client id does not match this session")
	}
	if s.upload != nil && s.upload.awaitVerdict {
		return s.protocolViolation("SendFile received while a CRC verdict is still pending")
	}

	hdr, ciphertext, err := protocol.UnmarshalSendFileFrame(payload)
	if err != nil {
		return s.protocolViolation("malformed SendFile payload")
	}
	if uint32(len(ciphertext)) != hdr.ContentSize {
		return s.protocolViolation("SendFile content_size does not match the actual chunk length")
	}
	filename, err := validate.Filename(hdr.Filename)
	if err != nil {
		return s.protocolViolation("SendFile carries an invalid filename")
	}

	if s.upload != nil && filename != s.currentFilename {
		// A new file starting mid-stream abandons the partial one. Clients
		// are not supposed to do this, but the server tolerates it.
		if hdr.PacketNum != 1 {
			return s.protocolViolation("SendFile frame disagrees with the in-progress upload")
		}
		s.log.Info("abandoning partial upload, new file started mid-stream",
			"abandoned", s.currentFilename, "file", filename)
		s.abortUploadOnError()
		s.currentFilename = ""
		s.retries = 0
	}

	if s.upload == nil {
		if hdr.PacketNum != 1 {
			return s.protocolViolation("first SendFile frame of an upload must be packet 1")
		}
		if s.currentFilename != "" && filename != s.currentFilename {
			return s.protocolViolation("filename changed between retry attempts")
		}
		s.currentFilename = filename

		dec, err := cryptoutil.NewDecrypter(s.aesKey)
		if err != nil {
			s.sendGeneralError()
			return apperrors.Wrap(apperrors.KindCryptoError, err, "serverengine: build decrypter")
		}
		f, tmpPath, finalPath, err := s.openUploadTemp(filename)
		if err != nil {
			s.sendGeneralError()
			return err
		}
		s.upload = &uploadState{
			dec:          dec,
			tmpFile:      f,
			tmpPath:      tmpPath,
			finalPath:    finalPath,
			origSize:     hdr.OrigSize,
			totalPackets: hdr.TotalPackets,
			nextPacket:   1,
		}
		s.phase = session.PhaseUploading
	} else {
		if hdr.TotalPackets != s.upload.totalPackets || hdr.OrigSize != s.upload.origSize {
			return s.protocolViolation("SendFile frame disagrees with the in-progress upload")
		}
	}

	if hdr.PacketNum != s.upload.nextPacket {
		s.abortUploadOnError()
		return s.protocolViolation("SendFile packets arrived out of order")
	}

	plain, err := s.upload.dec.Write(ciphertext)
	if err != nil {
		s.abortUploadOnError()
		s.sendGeneralError()
		return apperrors.Wrap(apperrors.KindCryptoError, err, "serverengine: decrypt chunk")
	}
	s.upload.crcStream.Update(plain)
	if _, err := s.upload.tmpFile.Write(plain); err != nil {
		s.abortUploadOnError()
		s.sendGeneralError()
		return apperrors.Wrap(apperrors.KindIoError, err, "serverengine: write decrypted chunk")
	}
	s.upload.nextPacket++

	if s.upload.nextPacket <= s.upload.totalPackets {
		return nil // more packets expected; no response yet
	}
	return s.finalizeUpload()
}

// finalizeUpload strips padding from the last ciphertext block, flushes the
// temp file, computes the final CRC, records the (unverified) file in the
// registry, and reports FileReceived.
func (s *Session) finalizeUpload() error {
	tail, err := s.upload.dec.Close()
	if err != nil {
		s.abortUploadOnError()
		s.sendGeneralError()
		return apperrors.Wrap(apperrors.KindCryptoError, err, "serverengine: finalize decryption")
	}
	s.upload.crcStream.Update(tail)
	if _, err := s.upload.tmpFile.Write(tail); err != nil {
		s.abortUploadOnError()
		s.sendGeneralError()
		return apperrors.Wrap(apperrors.KindIoError, err, "serverengine: flush final chunk")
	}
	if err := s.upload.tmpFile.Sync(); err != nil {
		s.abortUploadOnError()
		s.sendGeneralError()
		return apperrors.Wrap(apperrors.KindIoError, err, "serverengine: sync temp file")
	}

	crc := s.upload.crcStream.Finalize()
	s.upload.awaitVerdict = true

	if _, err := s.reg.RecordFile(s.clientID, s.currentFilename, s.upload.finalPath, int64(s.upload.origSize), crc); err != nil {
		s.sendGeneralError()
		return apperrors.Wrap(apperrors.KindRegistryError, err, "serverengine: record uploaded file")
	}

	if s.OnBytesReceived != nil {
		s.OnBytesReceived(int64(s.upload.origSize))
	}
	s.log.Info("file received", "phase", session.PhaseUploading, "file", s.currentFilename, "crc", crc)
	return s.sendFileReceived(s.currentFilename, int64(s.upload.origSize), crc)
}

// handleCrcOutcome processes CrcValid, CrcInvalidRetry, or CrcInvalidAbort,
// the three possible verdicts after FileReceived.
func (s *Session) handleCrcOutcome(reqHeader protocol.RequestHeader, payload []byte, code protocol.RequestCode) error {
	if s.upload == nil || !s.upload.awaitVerdict {
		return s.protocolViolation("CRC outcome received with no pending verdict")
	}
	if reqHeader.ClientID != s.clientID {
		return s.protocolViolation("CRC outcome client id does not match this session")
	}
	fp, err := protocol.UnmarshalFilenamePayload(payload)
	if err != nil {
		return s.protocolViolation("malformed CRC outcome payload")
	}
	filename, err := validate.Filename(fp.Filename)
	if err != nil || filename != s.currentFilename {
		return s.protocolViolation("CRC outcome filename does not match the in-progress upload")
	}

	switch code {
	case protocol.ReqCrcValid:
		if err := os.Rename(s.upload.tmpPath, s.upload.finalPath); err != nil {
			s.sendGeneralError()
			return apperrors.Wrap(apperrors.KindIoError, err, "serverengine: promote verified file")
		}
		if err := s.reg.MarkFileVerified(s.clientID, filename); err != nil {
			s.sendGeneralError()
			return apperrors.Wrap(apperrors.KindRegistryError, err, "serverengine: mark file verified")
		}
		if err := s.reg.TouchLastSeen(s.clientID); err != nil {
			s.log.Error(err, "unable to bump last_seen")
		}
		s.log.Info("upload confirmed", "phase", session.PhaseDone, "file", filename)
		s.resetUpload()
		return s.sendMessageConfirmed()

	case protocol.ReqCrcInvalidAbort:
		s.upload.tmpFile.Close()
		os.Remove(s.upload.tmpPath)
		if err := s.reg.DropFile(s.clientID, filename); err != nil {
			s.sendGeneralError()
			return apperrors.Wrap(apperrors.KindRegistryError, err, "serverengine: drop abandoned file")
		}
		s.log.Info("upload abandoned after repeated CRC mismatch", "phase", session.PhaseFailed, "file", filename)
		s.resetUpload()
		return s.sendMessageConfirmed()

	case protocol.ReqCrcInvalidRetry:
		s.retries++
		if s.OnCRCRetry != nil {
			s.OnCRCRetry()
		}
		if s.retries > MaxCRCRetries {
			s.abortUploadOnError()
			return s.protocolViolation("client retried more than the allowed number of times")
		}
		s.upload.tmpFile.Close()
		os.Remove(s.upload.tmpPath)
		s.upload = nil // next SendFile(packet 1) starts a fresh attempt
		s.log.Info("CRC mismatch, awaiting re-upload", "phase", session.PhaseUploading, "file", filename, "retry", s.retries)
		return nil // no response: the client proceeds straight to re-upload

	default:
		return s.protocolViolation("unexpected request following FileReceived")
	}
}

func (s *Session) resetUpload() {
	s.upload = nil
	s.currentFilename = ""
	s.retries = 0
	s.phase = session.PhaseKeyReady
}

// abortUploadOnError discards the in-progress temp file after an
// unrecoverable error mid-stream, without touching the registry (no record
// was written yet for an attempt that never reached finalizeUpload).
func (s *Session) abortUploadOnError() {
	if s.upload == nil {
		return
	}
	if s.upload.tmpFile != nil {
		s.upload.tmpFile.Close()
		os.Remove(s.upload.tmpPath)
	}
	s.upload = nil
}

// openUploadTemp creates the temp file an upload attempt streams into and
// computes the final on-disk path it will be renamed to once verified.
func (s *Session) openUploadTemp(filename string) (f *os.File, tmpPath, finalPath string, err error) {
	dir := uploadDir(s.storageDir, s.clientID)
	if mkErr := os.MkdirAll(dir, 0o700); mkErr != nil {
		return nil, "", "", apperrors.Wrap(apperrors.KindIoError, mkErr, "serverengine: create client storage directory")
	}
	finalPath = filepath.Join(dir, filename)
	tmp, createErr := os.CreateTemp(dir, ".upload-*")
	if createErr != nil {
		return nil, "", "", apperrors.Wrap(apperrors.KindIoError, createErr, "serverengine: create temp file")
	}
	return tmp, tmp.Name(), finalPath, nil
}
